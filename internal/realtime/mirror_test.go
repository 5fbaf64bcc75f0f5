package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func waitFor(t *testing.T, changed <-chan struct{}, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-changed:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("timeout waiting for condition")
		}
	}
}

func localNotes(b *Broker, householdID int64, snapshot []note) LocalSource[note] {
	return LocalSource[note]{
		Broker:      b,
		HouseholdID: householdID,
		Load: func(context.Context, Entity) ([]note, error) {
			return snapshot, nil
		},
	}
}

func publishNote(t *testing.T, b Publisher, typ ChangeType, householdID int64, n note) {
	t.Helper()
	var rec any = n
	if typ == Deleted {
		rec = nil
	}
	ev, err := NewEvent(EntityTasks, typ, householdID, n.ID, rec)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	b.Publish(ev)
}

func TestMirrorAttachAndFold(t *testing.T) {
	b := NewBroker(slog.Default())
	m := NewMirror[note](localNotes(b, 1, []note{{ID: 1, Text: "a"}}), EntityTasks, slog.Default())

	if m.State() != StateDetached {
		t.Fatalf("initial state = %v, want detached", m.State())
	}
	if err := m.Attach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer m.Detach()
	if m.State() != StateAttached {
		t.Fatalf("state = %v, want attached", m.State())
	}

	publishNote(t, b, Inserted, 1, note{ID: 2, Text: "b"})
	publishNote(t, b, Updated, 1, note{ID: 1, Text: "A"})
	publishNote(t, b, Inserted, 2, note{ID: 99, Text: "other household"})

	waitFor(t, m.Changed(), func() bool {
		r := m.Records()
		return len(r) == 2 && r[1].Text == "A"
	})
	r := m.Records()
	if r[0].ID != 2 {
		t.Errorf("records = %v, want newest first", r)
	}

	if err := m.Attach(context.Background()); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("second attach err = %v, want ErrAlreadyAttached", err)
	}
}

func TestMirrorDeduplicatesSnapshotRace(t *testing.T) {
	b := NewBroker(slog.Default())
	src := LocalSource[note]{
		Broker:      b,
		HouseholdID: 1,
		Load: func(context.Context, Entity) ([]note, error) {
			// The record is created between subscribe and snapshot, so it
			// arrives both ways.
			publishNote(t, b, Inserted, 1, note{ID: 5, Text: "raced"})
			return []note{{ID: 5, Text: "raced"}}, nil
		},
	}
	m := NewMirror[note](src, EntityTasks, slog.Default())
	if err := m.Attach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer m.Detach()

	// A marker event proves the raced insert has been folded.
	publishNote(t, b, Inserted, 1, note{ID: 6, Text: "marker"})
	waitFor(t, m.Changed(), func() bool { return len(m.Records()) >= 2 })

	if got := len(m.Records()); got != 2 {
		t.Errorf("records = %v, want 2 entries", m.Records())
	}
}

func TestMirrorDetach(t *testing.T) {
	b := NewBroker(slog.Default())
	m := NewMirror[note](localNotes(b, 1, nil), EntityTasks, slog.Default())
	if err := m.Attach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.Detach()
	if m.State() != StateDetached {
		t.Errorf("state = %v, want detached", m.State())
	}
	if got := b.SubscriberCount(1); got != 0 {
		t.Errorf("subscribers after detach = %d, want 0", got)
	}
	if m.Stale() {
		t.Error("explicit detach should not mark the mirror stale")
	}

	publishNote(t, b, Inserted, 1, note{ID: 1, Text: "late"})
	time.Sleep(20 * time.Millisecond)
	if got := len(m.Records()); got != 0 {
		t.Errorf("records after detach = %d, want 0", got)
	}
}

func TestMirrorDetachDuringAttach(t *testing.T) {
	b := NewBroker(slog.Default())
	var m *Mirror[note]
	src := LocalSource[note]{
		Broker:      b,
		HouseholdID: 1,
		Load: func(context.Context, Entity) ([]note, error) {
			m.Detach()
			return []note{{ID: 1, Text: "discarded"}}, nil
		},
	}
	m = NewMirror[note](src, EntityTasks, slog.Default())

	if err := m.Attach(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("attach err = %v, want ErrClosed", err)
	}
	if len(m.Records()) != 0 {
		t.Errorf("snapshot applied after detach: %v", m.Records())
	}
	if got := b.SubscriberCount(1); got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}
}

type chanStream struct {
	events chan Event
	errs   chan error
}

func (s *chanStream) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.errs:
		return Event{}, err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (s *chanStream) Close() error { return nil }

type chanSource struct {
	stream   *chanStream
	snapshot []note
	loads    int
}

func (s *chanSource) Subscribe(context.Context, Entity) (Stream, error) { return s.stream, nil }

func (s *chanSource) Snapshot(context.Context, Entity) ([]note, error) {
	s.loads++
	return s.snapshot, nil
}

func TestMirrorStaleOnDrop(t *testing.T) {
	src := &chanSource{
		stream:   &chanStream{events: make(chan Event), errs: make(chan error, 1)},
		snapshot: []note{{ID: 1, Text: "a"}},
	}
	m := NewMirror[note](src, EntityTasks, slog.Default())
	if err := m.Attach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	src.stream.errs <- ErrLagged
	waitFor(t, m.Changed(), func() bool { return m.State() == StateDetached })

	if !m.Stale() {
		t.Error("expected mirror to be stale after a drop")
	}
	if !errors.Is(m.Err(), ErrLagged) {
		t.Errorf("err = %v, want ErrLagged", m.Err())
	}
	if got := len(m.Records()); got != 1 {
		t.Errorf("records = %d, want last known state kept", got)
	}

	// Re-attaching takes a fresh snapshot and clears the stale flag.
	src.snapshot = []note{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}}
	if err := m.Attach(context.Background()); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	defer m.Detach()
	if m.Stale() || m.Err() != nil {
		t.Errorf("stale = %v, err = %v after re-attach", m.Stale(), m.Err())
	}
	if src.loads != 2 || len(m.Records()) != 2 {
		t.Errorf("loads = %d, records = %d", src.loads, len(m.Records()))
	}
}

func TestMirrorPendingPlaceholders(t *testing.T) {
	b := NewBroker(slog.Default())
	m := NewMirror[note](localNotes(b, 1, nil), EntityTasks, slog.Default())
	if err := m.Attach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer m.Detach()

	ref := m.AddPending(note{Text: "buy milk"})
	items := m.Items()
	if len(items) != 1 || items[0].Status != Pending || items[0].Ref != ref {
		t.Fatalf("items = %+v, want one pending placeholder", items)
	}
	if len(m.Records()) != 0 {
		t.Error("pending placeholder leaked into confirmed records")
	}

	// The feed delivers the created record before the create call returns.
	confirmed := note{ID: 10, Text: "buy milk"}
	publishNote(t, b, Inserted, 1, confirmed)
	waitFor(t, m.Changed(), func() bool { return len(m.Records()) == 1 })

	m.Confirm(ref, confirmed)
	items = m.Items()
	if len(items) != 1 {
		t.Fatalf("items = %+v, want exactly one entry", items)
	}
	if items[0].Status != Confirmed || items[0].Record.ID != 10 {
		t.Errorf("item = %+v, want confirmed id 10", items[0])
	}

	failed := m.AddPending(note{Text: "will fail"})
	m.Discard(failed)
	if got := len(m.Items()); got != 1 {
		t.Errorf("items after discard = %d, want 1", got)
	}
}

func TestMirrorEmptyListEncodesAsArray(t *testing.T) {
	b := NewBroker(slog.Default())
	m := NewMirror[note](localNotes(b, 1, nil), EntityTasks, slog.Default())

	encode := func() string {
		t.Helper()
		data, err := json.Marshal(m.Records())
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return string(data)
	}

	if got := encode(); got != "[]" {
		t.Errorf("before attach = %s, want []", got)
	}
	if err := m.Attach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer m.Detach()
	if got := encode(); got != "[]" {
		t.Errorf("empty snapshot = %s, want []", got)
	}

	publishNote(t, b, Inserted, 1, note{ID: 1, Text: "a"})
	waitFor(t, m.Changed(), func() bool { return len(m.Records()) == 1 })
	publishNote(t, b, Deleted, 1, note{ID: 1})
	waitFor(t, m.Changed(), func() bool { return len(m.Records()) == 0 })
	if got := encode(); got != "[]" {
		t.Errorf("after last delete = %s, want []", got)
	}
}

// replayStream hands out a fixed list of events, then blocks until closed.
type replayStream struct {
	events []Event
	closed chan struct{}
}

func (s *replayStream) Next(ctx context.Context) (Event, error) {
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		return ev, nil
	}
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.closed:
		return Event{}, errors.New("closed")
	}
}

func (s *replayStream) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

type replaySource struct {
	stream *replayStream
}

func (r replaySource) Subscribe(context.Context, Entity) (Stream, error) {
	return r.stream, nil
}

func (r replaySource) Snapshot(context.Context, Entity) ([]note, error) {
	return nil, nil
}

func TestMirrorIgnoresStaleDuplicates(t *testing.T) {
	event := func(seq uint64, typ ChangeType, n note) Event {
		var rec any = n
		if typ == Deleted {
			rec = nil
		}
		ev, err := NewEvent(EntityTasks, typ, 1, n.ID, rec)
		if err != nil {
			t.Fatalf("new event: %v", err)
		}
		ev.Seq = seq
		return ev
	}
	stream := &replayStream{
		events: []Event{
			event(1, Inserted, note{ID: 1, Text: "a"}),
			event(2, Updated, note{ID: 1, Text: "b"}),
			event(3, Inserted, note{ID: 2, Text: "gone"}),
			event(4, Deleted, note{ID: 2}),
			// Redelivered out of order.
			event(1, Inserted, note{ID: 1, Text: "a"}),
			event(3, Inserted, note{ID: 2, Text: "gone"}),
			event(2, Updated, note{ID: 1, Text: "b"}),
			event(5, Inserted, note{ID: 3, Text: "last"}),
		},
		closed: make(chan struct{}),
	}
	m := NewMirror[note](replaySource{stream: stream}, EntityTasks, slog.Default())
	if err := m.Attach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer m.Detach()

	waitFor(t, m.Changed(), func() bool {
		r := m.Records()
		return len(r) > 0 && r[0].ID == 3
	})
	r := m.Records()
	if len(r) != 2 || r[1].ID != 1 || r[1].Text != "b" {
		t.Errorf("records = %v, want [3 last] [1 b]", r)
	}

	// A late confirm of a deleted record does not bring it back.
	m.Confirm(m.AddPending(note{Text: "gone"}), note{ID: 2, Text: "gone"})
	if got := len(m.Records()); got != 2 {
		t.Errorf("records after confirm = %d, want 2", got)
	}
}
