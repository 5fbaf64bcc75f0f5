// Package task implements the task lifecycle: validated creation, the one-way
// open to completed transition, reassignment and removal, with their points
// and change-feed side effects.
package task

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/model"
	"github.com/dukerupert/roomie/internal/points"
	"github.com/dukerupert/roomie/internal/realtime"
	"github.com/dukerupert/roomie/internal/store"
)

type State string

const (
	StateOpen      State = "open"
	StateCompleted State = "completed"
)

// Status reports the lifecycle state of t.
func Status(t model.Task) State {
	if t.Completed {
		return StateCompleted
	}
	return StateOpen
}

type Tasks interface {
	List(ctx context.Context, householdID int64) ([]model.Task, error)
	Create(ctx context.Context, nt store.NewTask) (*model.Task, error)
	Complete(ctx context.Context, householdID, id, completedBy int64, at time.Time) (*model.Task, error)
	Reassign(ctx context.Context, householdID, id, assignee int64) (*model.Task, error)
	Delete(ctx context.Context, householdID, id int64) error
}

type Directory interface {
	IsMember(ctx context.Context, householdID, userID int64) (bool, error)
}

type Awarder interface {
	Award(ctx context.Context, userID int64, amount int, reason string)
}

// Notifier tells a member that a task was assigned to them.
type Notifier interface {
	TaskAssigned(ctx context.Context, t model.Task)
}

type Deps struct {
	Tasks     Tasks
	Directory Directory
	Points    Awarder
	Publisher realtime.Publisher
	Notifier  Notifier
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	tasks    Tasks
	dir      Directory
	points   Awarder
	pub      realtime.Publisher
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		tasks:    d.Tasks,
		dir:      d.Directory,
		points:   d.Points,
		pub:      d.Publisher,
		notifier: d.Notifier,
		logger:   d.Logger.With("component", "task"),
		now:      d.Now,
	}
}

// Input is the client-supplied part of a new task.
type Input struct {
	Title              string  `json:"title"`
	AssignedTo         *int64  `json:"assigned_to"`
	DueDate            *string `json:"due_date"`
	QuickActionMinutes *int    `json:"quick_action_minutes"`
}

func (s *Service) List(ctx context.Context, actor, householdID int64) ([]model.Task, error) {
	if err := s.requireMember(ctx, householdID, actor); err != nil {
		return nil, err
	}
	tasks, err := s.tasks.List(ctx, householdID)
	if err != nil {
		return nil, apperr.Classify(err, "list tasks")
	}
	return tasks, nil
}

// Create validates in, stores the task, credits the creator and announces
// the task on the feed. Assignee defaults to the actor.
func (s *Service) Create(ctx context.Context, actor, householdID int64, in Input) (*model.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	dueDate, err := model.ParseDate(in.DueDate)
	if err != nil {
		return nil, err
	}
	if in.QuickActionMinutes != nil && *in.QuickActionMinutes <= 0 {
		return nil, apperr.Validation("quick_action_minutes must be positive")
	}

	if err := s.requireMember(ctx, householdID, actor); err != nil {
		return nil, err
	}
	assignee := actor
	if in.AssignedTo != nil {
		assignee = *in.AssignedTo
	}
	if assignee != actor {
		if err := s.requireAssignee(ctx, householdID, assignee); err != nil {
			return nil, err
		}
	}

	nt := store.NewTask{
		HouseholdID:        householdID,
		Title:              title,
		AssignedTo:         assignee,
		CreatedBy:          actor,
		DueDate:            dueDate,
		QuickActionMinutes: in.QuickActionMinutes,
	}
	if in.QuickActionMinutes != nil {
		start := s.now()
		nt.StartTime = &start
	}

	t, err := s.tasks.Create(ctx, nt)
	if err != nil {
		return nil, apperr.Classify(err, "create task")
	}
	s.logger.Info("task created", "task_id", t.ID, "household_id", householdID, "actor", actor, "assignee", assignee)

	s.award(ctx, actor, points.PointsForCreate, "task created")
	s.publish(realtime.Inserted, t)
	if assignee != actor {
		s.notify(ctx, *t)
	}
	return t, nil
}

// Complete moves an open task to completed and credits the actor. Completing
// a task twice fails with AlreadyCompleted and credits nothing.
func (s *Service) Complete(ctx context.Context, actor, householdID, taskID int64) (*model.Task, error) {
	if err := s.requireMember(ctx, householdID, actor); err != nil {
		return nil, err
	}
	t, err := s.tasks.Complete(ctx, householdID, taskID, actor, s.now())
	if err != nil {
		return nil, apperr.Classify(err, "complete task")
	}
	s.logger.Info("task completed", "task_id", t.ID, "household_id", householdID, "actor", actor)

	s.award(ctx, actor, points.PointsForComplete, "task completed")
	s.publish(realtime.Updated, t)
	return t, nil
}

// Reassign hands an open task to another member.
func (s *Service) Reassign(ctx context.Context, actor, householdID, taskID, assignee int64) (*model.Task, error) {
	if err := s.requireMember(ctx, householdID, actor); err != nil {
		return nil, err
	}
	if err := s.requireAssignee(ctx, householdID, assignee); err != nil {
		return nil, err
	}
	t, err := s.tasks.Reassign(ctx, householdID, taskID, assignee)
	if err != nil {
		return nil, apperr.Classify(err, "reassign task")
	}

	s.publish(realtime.Updated, t)
	if assignee != actor {
		s.notify(ctx, *t)
	}
	return t, nil
}

// Delete removes a task at any stage.
func (s *Service) Delete(ctx context.Context, actor, householdID, taskID int64) error {
	if err := s.requireMember(ctx, householdID, actor); err != nil {
		return err
	}
	if err := s.tasks.Delete(ctx, householdID, taskID); err != nil {
		return apperr.Classify(err, "delete task")
	}
	s.logger.Info("task deleted", "task_id", taskID, "household_id", householdID, "actor", actor)

	s.publish(realtime.Deleted, &model.Task{ID: taskID, HouseholdID: householdID})
	return nil
}

func (s *Service) requireMember(ctx context.Context, householdID, userID int64) error {
	ok, err := s.dir.IsMember(ctx, householdID, userID)
	if err != nil {
		return apperr.Classify(err, "check membership")
	}
	if !ok {
		s.logger.Warn("non-member task access", "household_id", householdID, "user_id", userID)
		return apperr.Authorization("not a member of this household")
	}
	return nil
}

func (s *Service) requireAssignee(ctx context.Context, householdID, userID int64) error {
	ok, err := s.dir.IsMember(ctx, householdID, userID)
	if err != nil {
		return apperr.Classify(err, "check membership")
	}
	if !ok {
		s.logger.Warn("assignee outside household", "household_id", householdID, "assignee", userID)
		return apperr.Authorization("assignee is not a member of this household")
	}
	return nil
}

func (s *Service) award(ctx context.Context, userID int64, amount int, reason string) {
	if s.points == nil {
		return
	}
	// The award outlives a client that hangs up right after the mutation.
	s.points.Award(context.WithoutCancel(ctx), userID, amount, reason)
}

func (s *Service) publish(typ realtime.ChangeType, t *model.Task) {
	if s.pub == nil {
		return
	}
	var rec any
	if typ != realtime.Deleted {
		rec = t
	}
	ev, err := realtime.NewEvent(realtime.EntityTasks, typ, t.HouseholdID, t.ID, rec)
	if err != nil {
		s.logger.Error("build task event", "task_id", t.ID, "error", err)
		return
	}
	s.pub.Publish(ev)
}

func (s *Service) notify(ctx context.Context, t model.Task) {
	if s.notifier != nil {
		s.notifier.TaskAssigned(ctx, t)
	}
}
