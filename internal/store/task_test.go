package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/model"
)

type taskFixture struct {
	db     *sql.DB
	tasks  *TaskStore
	hid    int64
	anna   int64
	ben    int64
	otherH int64
}

func setupTaskTest(t *testing.T) taskFixture {
	t.Helper()
	db := setupTestDB(t)
	hs := NewHouseholdStore(db)
	ctx := context.Background()

	anna := createProfile(t, db, "anna")
	ben := createProfile(t, db, "ben")
	other := createProfile(t, db, "other")

	h, err := hs.CreateWithFounder(ctx, anna.ID, "WG Musterstraße", model.HouseholdTypeWG)
	if err != nil {
		t.Fatalf("create household: %v", err)
	}
	if _, err := hs.Join(ctx, h.ID, ben.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	oh, err := hs.CreateWithFounder(ctx, other.ID, "Elsewhere", model.HouseholdTypeCouple)
	if err != nil {
		t.Fatalf("create other household: %v", err)
	}
	return taskFixture{db: db, tasks: NewTaskStore(db), hid: h.ID, anna: anna.ID, ben: ben.ID, otherH: oh.ID}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int { return &i }

func TestTaskCreateRoundTrip(t *testing.T) {
	f := setupTaskTest(t)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Second)

	created, err := f.tasks.Create(ctx, NewTask{
		HouseholdID:        f.hid,
		Title:              "Take out trash",
		AssignedTo:         f.ben,
		CreatedBy:          f.anna,
		DueDate:            strPtr("2024-06-01"),
		QuickActionMinutes: intPtr(30),
		StartTime:          &start,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if created.Completed || created.CompletedAt != nil {
		t.Errorf("new task should be open: %+v", created)
	}

	got, err := f.tasks.GetByID(ctx, f.hid, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DueDate == nil || *got.DueDate != "2024-06-01" {
		t.Errorf("due_date = %v, want 2024-06-01", got.DueDate)
	}
	if got.QuickActionMinutes == nil || *got.QuickActionMinutes != 30 {
		t.Errorf("quick_action_minutes = %v, want 30", got.QuickActionMinutes)
	}
	if got.StartTime == nil || !got.StartTime.Equal(start) {
		t.Errorf("start_time = %v, want %v", got.StartTime, start)
	}
	if got.AssignedTo != f.ben || got.CreatedBy != f.anna {
		t.Errorf("assigned_to/created_by = %d/%d, want %d/%d", got.AssignedTo, got.CreatedBy, f.ben, f.anna)
	}
}

func TestTaskListNewestFirstAndScoped(t *testing.T) {
	f := setupTaskTest(t)
	ctx := context.Background()

	first, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "first", AssignedTo: f.anna, CreatedBy: f.anna})
	second, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "second", AssignedTo: f.anna, CreatedBy: f.anna})

	tasks, err := f.tasks.List(ctx, f.hid)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if tasks[0].ID != second.ID || tasks[1].ID != first.ID {
		t.Errorf("order = [%d %d], want [%d %d]", tasks[0].ID, tasks[1].ID, second.ID, first.ID)
	}

	other, err := f.tasks.List(ctx, f.otherH)
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other household sees %d tasks, want 0", len(other))
	}
	if got, _ := f.tasks.GetByID(ctx, f.otherH, first.ID); got != nil {
		t.Error("task visible from another household")
	}
}

func TestTaskComplete(t *testing.T) {
	f := setupTaskTest(t)
	ctx := context.Background()
	task, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "Dishes", AssignedTo: f.anna, CreatedBy: f.anna})

	done, err := f.tasks.Complete(ctx, f.hid, task.ID, f.ben, time.Now())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Completed {
		t.Error("expected completed")
	}
	if done.CompletedAt == nil || done.CompletedAt.Before(done.CreatedAt) {
		t.Errorf("completed_at = %v, created_at = %v", done.CompletedAt, done.CreatedAt)
	}
	if done.CompletedBy == nil || *done.CompletedBy != f.ben {
		t.Errorf("completed_by = %v, want %d", done.CompletedBy, f.ben)
	}

	_, err = f.tasks.Complete(ctx, f.hid, task.ID, f.anna, time.Now())
	if !errors.Is(err, apperr.ErrAlreadyCompleted) {
		t.Errorf("second complete err = %v, want already completed", err)
	}
}

func TestTaskCompleteClampsTime(t *testing.T) {
	f := setupTaskTest(t)
	ctx := context.Background()
	task, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "Dishes", AssignedTo: f.anna, CreatedBy: f.anna})

	done, err := f.tasks.Complete(ctx, f.hid, task.ID, f.anna, task.CreatedAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt.Before(done.CreatedAt) {
		t.Errorf("completed_at %v precedes created_at %v", done.CompletedAt, done.CreatedAt)
	}
}

func TestTaskCompleteNotFound(t *testing.T) {
	f := setupTaskTest(t)
	ctx := context.Background()
	task, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "Dishes", AssignedTo: f.anna, CreatedBy: f.anna})

	if _, err := f.tasks.Complete(ctx, f.hid, 999, f.anna, time.Now()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := f.tasks.Complete(ctx, f.otherH, task.ID, f.anna, time.Now()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cross-household err = %v, want not found", err)
	}
}

func TestTaskCompleteConcurrent(t *testing.T) {
	f := setupTaskTest(t)
	ctx := context.Background()
	task, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "Dishes", AssignedTo: f.anna, CreatedBy: f.anna})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		already   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tasks.Complete(ctx, f.hid, task.ID, f.anna, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.ErrAlreadyCompleted):
				already++
			default:
				t.Errorf("complete: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded)
	}
	if already != workers-1 {
		t.Errorf("already completed = %d, want %d", already, workers-1)
	}
}

func TestTaskReassign(t *testing.T) {
	f := setupTaskTest(t)
	ctx := context.Background()
	task, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "Dishes", AssignedTo: f.anna, CreatedBy: f.anna})

	updated, err := f.tasks.Reassign(ctx, f.hid, task.ID, f.ben)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if updated.AssignedTo != f.ben {
		t.Errorf("assigned_to = %d, want %d", updated.AssignedTo, f.ben)
	}

	f.tasks.Complete(ctx, f.hid, task.ID, f.ben, time.Now())
	if _, err := f.tasks.Reassign(ctx, f.hid, task.ID, f.anna); !errors.Is(err, apperr.ErrAlreadyCompleted) {
		t.Errorf("reassign completed err = %v, want already completed", err)
	}
	if _, err := f.tasks.Reassign(ctx, f.hid, 999, f.anna); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("reassign missing err = %v, want not found", err)
	}
}

func TestTaskDelete(t *testing.T) {
	f := setupTaskTest(t)
	ctx := context.Background()
	task, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "Dishes", AssignedTo: f.anna, CreatedBy: f.anna})

	if err := f.tasks.Delete(ctx, f.hid, 999); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("delete missing err = %v, want not found", err)
	}
	tasks, _ := f.tasks.List(ctx, f.hid)
	if len(tasks) != 1 {
		t.Errorf("tasks after failed delete = %d, want 1", len(tasks))
	}

	if err := f.tasks.Delete(ctx, f.hid, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	tasks, _ = f.tasks.List(ctx, f.hid)
	if len(tasks) != 0 {
		t.Errorf("tasks after delete = %d, want 0", len(tasks))
	}
}

func TestTaskStatistics(t *testing.T) {
	f := setupTaskTest(t)
	ctx := context.Background()
	a, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "a", AssignedTo: f.anna, CreatedBy: f.anna})
	b, _ := f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "b", AssignedTo: f.anna, CreatedBy: f.anna})
	f.tasks.Create(ctx, NewTask{HouseholdID: f.hid, Title: "open", AssignedTo: f.anna, CreatedBy: f.anna})

	f.tasks.Complete(ctx, f.hid, a.ID, f.ben, time.Now())
	f.tasks.Complete(ctx, f.hid, b.ID, f.ben, time.Now().Add(time.Minute))
	NewProfileStore(f.db).IncrementPoints(ctx, f.ben, 20)

	history, err := f.tasks.ListCompleted(ctx, f.hid, 0)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
	if history[0].ID != b.ID {
		t.Errorf("most recent = %d, want %d", history[0].ID, b.ID)
	}

	stats, err := f.tasks.MemberStats(ctx, f.hid)
	if err != nil {
		t.Fatalf("member stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %d, want 2", len(stats))
	}
	if stats[0].UserID != f.ben || stats[0].CompletedTasks != 2 || stats[0].Points != 20 {
		t.Errorf("leader = %+v, want ben with 2 tasks and 20 points", stats[0])
	}
	if stats[1].CompletedTasks != 0 {
		t.Errorf("anna completed = %d, want 0", stats[1].CompletedTasks)
	}
}
