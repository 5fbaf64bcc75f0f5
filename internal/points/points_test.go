package points

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/database"
	"github.com/dukerupert/roomie/internal/store"
	bolt "go.etcd.io/bbolt"
)

type fakeIncrementer struct {
	mu     sync.Mutex
	totals map[int64]int
	err    error
	calls  int
}

func newFakeIncrementer() *fakeIncrementer {
	return &fakeIncrementer{totals: map[int64]int{}}
}

func (f *fakeIncrementer) IncrementPoints(_ context.Context, userID int64, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	f.totals[userID] += amount
	return f.totals[userID], nil
}

func (f *fakeIncrementer) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	o, err := OpenOutbox(filepath.Join(t.TempDir(), "outbox.db"), testLogger())
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func TestIncrementRejectsNegative(t *testing.T) {
	inc := newFakeIncrementer()
	l := NewLedger(inc, nil, testLogger())

	_, err := l.Increment(context.Background(), 1, -5)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if inc.calls != 0 {
		t.Errorf("store called %d times, want 0", inc.calls)
	}
}

func TestIncrementClassifiesFailures(t *testing.T) {
	inc := newFakeIncrementer()
	l := NewLedger(inc, nil, testLogger())

	inc.setErr(errors.New("database is locked"))
	if _, err := l.Increment(context.Background(), 1, 5); !errors.Is(err, apperr.ErrTransient) {
		t.Errorf("err = %v, want transient", err)
	}

	inc.setErr(apperr.NotFound("profile not found"))
	if _, err := l.Increment(context.Background(), 1, 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestIncrementConcurrentAgainstStore(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	profiles := store.NewProfileStore(db)
	ctx := context.Background()
	p, err := profiles.Create(ctx, "anna@example.com", "Anna", "hash")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	l := NewLedger(profiles, nil, testLogger())
	var wg sync.WaitGroup
	for _, n := range []int{5, 10, 5, 10} {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := l.Increment(ctx, p.ID, n); err != nil {
				t.Errorf("increment: %v", err)
			}
		}(n)
	}
	wg.Wait()

	got, _ := profiles.GetByID(ctx, p.ID)
	if got.Points != 30 {
		t.Errorf("points = %d, want 30", got.Points)
	}
}

func TestAwardQueuesTransientFailure(t *testing.T) {
	inc := newFakeIncrementer()
	o := openTestOutbox(t)
	l := NewLedger(inc, o, testLogger())

	inc.setErr(errors.New("disk I/O error"))
	l.Award(context.Background(), 7, PointsForComplete, "task completed")

	n, err := o.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if n != 1 {
		t.Fatalf("outbox size = %d, want 1", n)
	}
	awards, _ := o.Batch(10)
	if awards[0].UserID != 7 || awards[0].Amount != PointsForComplete {
		t.Errorf("award = %+v", awards[0])
	}
}

func TestAwardDropsNonTransientFailure(t *testing.T) {
	inc := newFakeIncrementer()
	o := openTestOutbox(t)
	l := NewLedger(inc, o, testLogger())

	inc.setErr(apperr.NotFound("profile not found"))
	l.Award(context.Background(), 7, PointsForCreate, "task created")

	if n, _ := o.Size(); n != 0 {
		t.Errorf("outbox size = %d, want 0", n)
	}
}

func TestDrainAppliesAndRetries(t *testing.T) {
	inc := newFakeIncrementer()
	o := openTestOutbox(t)
	d := NewDrainer(o, inc, DrainConfig{MaxAttempts: 2}, testLogger())
	ctx := context.Background()

	o.Enqueue(PendingAward{UserID: 1, Amount: 10, Reason: "task completed"})
	o.Enqueue(PendingAward{UserID: 2, Amount: 5, Reason: "task created"})

	inc.setErr(errors.New("database is locked"))
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	awards, _ := o.Batch(10)
	if len(awards) != 2 {
		t.Fatalf("awards after failed drain = %d, want 2", len(awards))
	}
	for _, a := range awards {
		if a.Attempts != 1 {
			t.Errorf("attempts = %d, want 1", a.Attempts)
		}
	}

	inc.setErr(nil)
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n, _ := o.Size(); n != 0 {
		t.Errorf("outbox size = %d, want 0", n)
	}
	if inc.totals[1] != 10 || inc.totals[2] != 5 {
		t.Errorf("totals = %v", inc.totals)
	}
}

func TestDrainDropsAfterMaxAttempts(t *testing.T) {
	inc := newFakeIncrementer()
	o := openTestOutbox(t)
	d := NewDrainer(o, inc, DrainConfig{MaxAttempts: 2}, testLogger())
	ctx := context.Background()

	o.Enqueue(PendingAward{UserID: 1, Amount: 10})
	inc.setErr(errors.New("database is locked"))

	d.Drain(ctx)
	d.Drain(ctx)

	if n, _ := o.Size(); n != 0 {
		t.Errorf("outbox size = %d, want 0 after max attempts", n)
	}
}

func TestDrainDropsUnknownUser(t *testing.T) {
	inc := newFakeIncrementer()
	o := openTestOutbox(t)
	d := NewDrainer(o, inc, DrainConfig{}, testLogger())

	o.Enqueue(PendingAward{UserID: 99, Amount: 10})
	inc.setErr(apperr.NotFound("profile not found"))

	if err := d.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n, _ := o.Size(); n != 0 {
		t.Errorf("outbox size = %d, want 0", n)
	}
}

func TestRequeueKeepsSingleEntry(t *testing.T) {
	o := openTestOutbox(t)
	o.Enqueue(PendingAward{UserID: 1, Amount: 10, Reason: "task completed"})

	awards, _ := o.Batch(10)
	if err := o.Requeue(awards[0]); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	requeued, err := o.Batch(10)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(requeued) != 1 {
		t.Fatalf("awards = %d, want 1", len(requeued))
	}
	a := requeued[0]
	if a.ID != awards[0].ID || a.Attempts != 1 || a.Amount != 10 {
		t.Errorf("award = %+v, want %s with one attempt", a, awards[0].ID)
	}
}

func TestBatchDropsUndecodableEntries(t *testing.T) {
	o := openTestOutbox(t)
	o.Enqueue(PendingAward{UserID: 1, Amount: 10})
	if err := o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).Put([]byte("00000000000000000000_broken"), []byte("{not json"))
	}); err != nil {
		t.Fatalf("put corrupt entry: %v", err)
	}
	if n, _ := o.Size(); n != 2 {
		t.Fatalf("outbox size = %d, want 2", n)
	}

	awards, err := o.Batch(10)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(awards) != 1 || awards[0].UserID != 1 {
		t.Errorf("awards = %+v, want only the decodable award", awards)
	}
	if n, _ := o.Size(); n != 1 {
		t.Errorf("outbox size after batch = %d, want 1", n)
	}
}
