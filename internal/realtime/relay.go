package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relayPublishTimeout = 2 * time.Second

// RedisRelay shares the feed between service instances over a Redis pub/sub
// channel. Events are delivered locally right away and to other instances
// through Redis; each instance ignores its own messages. Sequence numbers
// are per instance.
type RedisRelay struct {
	client  *redis.Client
	broker  *Broker
	channel string
	origin  string
	logger  *slog.Logger
}

type relayEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

func NewRedisRelay(client *redis.Client, broker *Broker, channel string, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client:  client,
		broker:  broker,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With("component", "realtime-relay"),
	}
}

// Publish delivers ev locally and forwards it to the other instances. A Redis
// failure only affects remote subscribers and is logged.
func (r *RedisRelay) Publish(ev Event) {
	ev = r.broker.stamp(ev)
	r.broker.Deliver(ev)

	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: ev})
	if err != nil {
		r.logger.Error("marshal relay envelope", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed", "seq", ev.Seq, "household_id", ev.HouseholdID, "error", err)
	}
}

// Run receives events from other instances until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("relay subscribed", "channel", r.channel)

	ch := ps.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("dropping malformed relay message", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.broker.Deliver(env.Event)
}
