package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Stream is an attached feed of events for one entity.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Source provides what a Mirror needs: a live feed and a snapshot.
type Source[T Record] interface {
	Subscribe(ctx context.Context, entity Entity) (Stream, error)
	Snapshot(ctx context.Context, entity Entity) ([]T, error)
}

type State int

const (
	StateDetached State = iota
	StateAttaching
	StateAttached
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var ErrAlreadyAttached = errors.New("realtime: mirror already attached")

type ItemStatus int

const (
	Confirmed ItemStatus = iota
	Pending
)

// Item is a row of the mirrored list. Pending items are local placeholders
// for creates that have not been confirmed by the server; they are keyed by
// Ref and never matched against server ids.
type Item[T Record] struct {
	Status ItemStatus
	Ref    string
	Record T
}

// Mirror keeps a local copy of one entity list in sync with the feed.
type Mirror[T Record] struct {
	src    Source[T]
	entity Entity
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	records  []T
	versions Versions
	pending  []Item[T]
	stream   Stream
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	stale    bool

	changed chan struct{}
}

func NewMirror[T Record](src Source[T], entity Entity, logger *slog.Logger) *Mirror[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror[T]{
		src:      src,
		entity:   entity,
		logger:   logger.With("component", "mirror", "entity", string(entity)),
		records:  []T{},
		versions: Versions{},
		changed:  make(chan struct{}, 1),
	}
}

// Attach subscribes to the feed, loads a snapshot and starts folding live
// events into it. The subscription is opened before the snapshot is read so
// no change falls between the two; records seen by both are deduplicated by
// the reducer.
func (m *Mirror[T]) Attach(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDetached {
		m.mu.Unlock()
		return ErrAlreadyAttached
	}
	m.state = StateAttaching
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	stream, err := m.src.Subscribe(ctx, m.entity)
	if err != nil {
		m.fail(gen, err)
		return fmt.Errorf("subscribe %s: %w", m.entity, err)
	}
	snapshot, err := m.src.Snapshot(ctx, m.entity)
	if err != nil {
		stream.Close()
		m.fail(gen, err)
		return fmt.Errorf("snapshot %s: %w", m.entity, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.gen != gen {
		// Detached while attaching.
		m.mu.Unlock()
		cancel()
		stream.Close()
		return ErrClosed
	}
	m.state = StateAttached
	m.records = append(make([]T, 0, len(snapshot)), snapshot...)
	m.versions = Versions{}
	m.stream = stream
	m.cancel = cancel
	m.done = make(chan struct{})
	m.err = nil
	m.stale = false
	done := m.done
	m.mu.Unlock()

	m.notify()
	go m.fold(loopCtx, gen, stream, done)
	return nil
}

func (m *Mirror[T]) fold(ctx context.Context, gen uint64, stream Stream, done chan struct{}) {
	defer close(done)
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("feed dropped", "error", err)
			stream.Close()
			m.fail(gen, err)
			return
		}
		if ev.Entity != m.entity {
			continue
		}
		c, err := Decode[T](ev)
		if err != nil {
			m.logger.Error("skipping undecodable event", "seq", ev.Seq, "error", err)
			continue
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		if !m.versions.Admit(c.ID, c.Seq) {
			m.mu.Unlock()
			continue
		}
		m.records = Apply(m.records, c)
		m.mu.Unlock()
		m.notify()
	}
}

// fail moves the mirror to detached and marks it stale, unless a newer
// attach or an explicit detach has happened since gen.
func (m *Mirror[T]) fail(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.state = StateDetached
	m.stream = nil
	m.err = err
	m.stale = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
	m.notify()
}

// Detach stops the fold loop and releases the stream. Results of calls still
// in flight are discarded.
func (m *Mirror[T]) Detach() {
	m.mu.Lock()
	m.gen++
	m.state = StateDetached
	stream, cancel, done := m.stream, m.cancel, m.done
	m.stream, m.cancel, m.done = nil, nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}
	if done != nil {
		<-done
	}
}

func (m *Mirror[T]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stale reports whether the feed dropped since the last successful attach.
// The list is then frozen at its last known state until Attach is called
// again.
func (m *Mirror[T]) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

// Err returns the error that detached the mirror, if any.
func (m *Mirror[T]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Records returns a copy of the confirmed records. It is never nil, so an
// empty list encodes as [].
func (m *Mirror[T]) Records() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(make([]T, 0, len(m.records)), m.records...)
}

// Items returns pending placeholders followed by confirmed records.
func (m *Mirror[T]) Items() []Item[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item[T], 0, len(m.pending)+len(m.records))
	out = append(out, m.pending...)
	for _, r := range m.records {
		out = append(out, Item[T]{Status: Confirmed, Record: r})
	}
	return out
}

// AddPending shows rec as a placeholder until Confirm or Discard is called
// with the returned reference.
func (m *Mirror[T]) AddPending(rec T) string {
	ref := uuid.NewString()
	m.mu.Lock()
	m.pending = append([]Item[T]{{Status: Pending, Ref: ref, Record: rec}}, m.pending...)
	m.mu.Unlock()
	m.notify()
	return ref
}

// Confirm replaces the placeholder ref with the server's record. If the feed
// already delivered or deleted the record it is not added again.
func (m *Mirror[T]) Confirm(ref string, rec T) {
	m.mu.Lock()
	m.pending = removeRef(m.pending, ref)
	if m.versions.Admit(rec.RecordID(), 0) {
		m.records = Apply(m.records, Change[T]{Type: Inserted, ID: rec.RecordID(), Record: rec})
	}
	m.mu.Unlock()
	m.notify()
}

// Discard drops the placeholder ref, for a create that failed.
func (m *Mirror[T]) Discard(ref string) {
	m.mu.Lock()
	m.pending = removeRef(m.pending, ref)
	m.mu.Unlock()
	m.notify()
}

// Changed signals after the list or state changes. Signals coalesce.
func (m *Mirror[T]) Changed() <-chan struct{} {
	return m.changed
}

func (m *Mirror[T]) notify() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func removeRef[T Record](items []Item[T], ref string) []Item[T] {
	out := make([]Item[T], 0, len(items))
	for _, it := range items {
		if it.Ref != ref {
			out = append(out, it)
		}
	}
	return out
}
