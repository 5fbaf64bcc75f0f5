package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

// NewTask holds the fields of a task insert. Validation happens before it
// reaches the store.
type NewTask struct {
	HouseholdID        int64
	Title              string
	AssignedTo         int64
	CreatedBy          int64
	DueDate            *string
	QuickActionMinutes *int
	StartTime          *time.Time
}

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	err := scanner.Scan(
		&t.ID, &t.HouseholdID, &t.Title, &t.AssignedTo, &t.CreatedBy, &t.DueDate,
		&t.QuickActionMinutes, &t.Completed, &t.StartTime, &t.CompletedAt, &t.CompletedBy,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const taskCols = `id, household_id, title, assigned_to, created_by, due_date,
	quick_action_minutes, completed, start_time, completed_at, completed_by,
	created_at, updated_at`

func (s *TaskStore) List(ctx context.Context, householdID int64) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE household_id = ? ORDER BY created_at DESC, id DESC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// GetByID returns the task, or nil when it does not exist in the household.
func (s *TaskStore) GetByID(ctx context.Context, householdID, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE id = ? AND household_id = ?`, id, householdID,
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) Create(ctx context.Context, nt NewTask) (*model.Task, error) {
	var startTime any
	if nt.StartTime != nil {
		startTime = nt.StartTime.UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (household_id, title, assigned_to, created_by, due_date, quick_action_minutes, start_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nt.HouseholdID, nt.Title, nt.AssignedTo, nt.CreatedBy, nt.DueDate, nt.QuickActionMinutes, startTime,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, nt.HouseholdID, id)
}

// Complete marks an open task completed by completedBy. The update only
// matches rows with completed = 0, so of two concurrent calls exactly one
// succeeds and the other gets AlreadyCompleted. The completion time is
// clamped to never precede the creation time.
func (s *TaskStore) Complete(ctx context.Context, householdID, id, completedBy int64, at time.Time) (*model.Task, error) {
	t, err := s.GetByID(ctx, householdID, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.NotFound("task not found")
	}
	if t.Completed {
		return nil, apperr.AlreadyCompleted("task already completed")
	}

	at = at.UTC()
	if at.Before(t.CreatedAt) {
		at = t.CreatedAt.UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 1, completed_at = ?, completed_by = ?, updated_at = ?
		 WHERE id = ? AND household_id = ? AND completed = 0`,
		at, completedBy, at, id, householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, s.missOrCompleted(ctx, householdID, id)
	}
	return s.GetByID(ctx, householdID, id)
}

// Reassign changes the assignee of an open task.
func (s *TaskStore) Reassign(ctx context.Context, householdID, id, assignee int64) (*model.Task, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET assigned_to = ?, updated_at = ?
		 WHERE id = ? AND household_id = ? AND completed = 0`,
		assignee, time.Now().UTC(), id, householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("reassign task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, s.missOrCompleted(ctx, householdID, id)
	}
	return s.GetByID(ctx, householdID, id)
}

func (s *TaskStore) Delete(ctx context.Context, householdID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND household_id = ?`, id, householdID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("task not found")
	}
	return nil
}

// missOrCompleted explains why a conditional update touched no rows.
func (s *TaskStore) missOrCompleted(ctx context.Context, householdID, id int64) error {
	t, err := s.GetByID(ctx, householdID, id)
	if err != nil {
		return err
	}
	if t == nil {
		return apperr.NotFound("task not found")
	}
	return apperr.AlreadyCompleted("task already completed")
}

// ListCompleted returns the household's completion history, most recent first.
func (s *TaskStore) ListCompleted(ctx context.Context, householdID int64, limit int) ([]model.CompletedTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, assigned_to, COALESCE(completed_by, assigned_to), completed_at
		 FROM tasks
		 WHERE household_id = ? AND completed = 1
		 ORDER BY completed_at DESC, id DESC
		 LIMIT ?`,
		householdID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list completed tasks: %w", err)
	}
	defer rows.Close()

	history := []model.CompletedTask{}
	for rows.Next() {
		var c model.CompletedTask
		if err := rows.Scan(&c.ID, &c.Title, &c.AssignedTo, &c.CompletedBy, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan completed task: %w", err)
		}
		history = append(history, c)
	}
	return history, rows.Err()
}

// MemberStats returns every member of the household with their points and
// the number of tasks they completed, highest points first.
func (s *TaskStore) MemberStats(ctx context.Context, householdID int64) ([]model.MemberStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.full_name, p.points, COUNT(t.id)
		 FROM user_households uh
		 JOIN profiles p ON p.id = uh.user_id
		 LEFT JOIN tasks t ON t.household_id = uh.household_id AND t.completed = 1 AND t.completed_by = p.id
		 WHERE uh.household_id = ?
		 GROUP BY p.id, p.full_name, p.points
		 ORDER BY p.points DESC, p.id ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("member stats: %w", err)
	}
	defer rows.Close()

	stats := []model.MemberStats{}
	for rows.Next() {
		var m model.MemberStats
		if err := rows.Scan(&m.UserID, &m.FullName, &m.Points, &m.CompletedTasks); err != nil {
			return nil, fmt.Errorf("scan member stats: %w", err)
		}
		stats = append(stats, m)
	}
	return stats, rows.Err()
}
