package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriptionBufferSize = 64

var (
	// ErrLagged reports that a subscriber did not keep up and was detached.
	// Its view is stale and must be rebuilt from a snapshot.
	ErrLagged = errors.New("realtime: subscriber lagged behind the feed")
	// ErrClosed reports that the subscription was closed by its owner.
	ErrClosed = errors.New("realtime: subscription closed")
)

// Publisher accepts change events for fan-out.
type Publisher interface {
	Publish(ev Event)
}

// Broker fans events out to the subscribers of the event's household.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int64]map[*Subscription]struct{}
	seq    atomic.Uint64
	logger *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[int64]map[*Subscription]struct{}),
		logger: logger.With("component", "realtime"),
	}
}

// Subscribe attaches a subscription to the household's feed. Without
// entities every entity is delivered.
func (b *Broker) Subscribe(householdID int64, entities ...Entity) *Subscription {
	s := &Subscription{
		broker:      b,
		householdID: householdID,
		events:      make(chan Event, subscriptionBufferSize),
	}
	if len(entities) > 0 {
		s.entities = make(map[Entity]bool, len(entities))
		for _, e := range entities {
			s.entities[e] = true
		}
	}

	b.mu.Lock()
	set, ok := b.subs[householdID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[householdID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish stamps ev with the next sequence number and delivers it. It never
// blocks; subscribers whose buffer is full are detached with ErrLagged.
func (b *Broker) Publish(ev Event) {
	b.Deliver(b.stamp(ev))
}

func (b *Broker) stamp(ev Event) Event {
	ev.Seq = b.seq.Add(1)
	return ev
}

// Deliver fans ev out without restamping it.
func (b *Broker) Deliver(ev Event) {
	var lagged []*Subscription

	b.mu.RLock()
	for s := range b.subs[ev.HouseholdID] {
		if s.entities != nil && !s.entities[ev.Entity] {
			continue
		}
		select {
		case s.events <- ev:
		default:
			lagged = append(lagged, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range lagged {
		b.logger.Warn("detaching lagging subscriber", "household_id", s.householdID, "seq", ev.Seq)
		b.detach(s, ErrLagged)
	}
}

// SubscriberCount returns the number of live subscriptions for a household.
func (b *Broker) SubscriberCount(householdID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[householdID])
}

func (b *Broker) detach(s *Subscription, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[s.householdID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.householdID)
	}
	s.setErr(reason)
	close(s.events)
}

// Subscription is one attached consumer of a household feed.
type Subscription struct {
	broker      *Broker
	householdID int64
	entities    map[Entity]bool
	events      chan Event

	mu  sync.Mutex
	err error
}

// Events is closed when the subscription is detached; Err then reports why.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Next blocks for the next event.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, s.Err()
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.broker.detach(s, ErrClosed)
	return nil
}
