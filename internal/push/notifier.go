package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/roomie/internal/model"
)

const sendTimeout = 10 * time.Second

type Subscriptions interface {
	ListByUser(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// Notifier sends task notifications in the background so mutations never
// wait on push services.
type Notifier struct {
	svc    *Service
	subs   Subscriptions
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewNotifier(svc *Service, subs Subscriptions, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{svc: svc, subs: subs, logger: logger.With("component", "push")}
}

// TaskAssigned notifies the task's assignee on all of their devices.
func (n *Notifier) TaskAssigned(ctx context.Context, t model.Task) {
	if !n.svc.Enabled() {
		return
	}
	payload := Payload{
		Title: "New task for you",
		Body:  t.Title,
		URL:   "/tasks",
		Tag:   fmt.Sprintf("task-%d", t.ID),
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		n.sendToUser(ctx, t.AssignedTo, payload)
	}()
}

func (n *Notifier) sendToUser(ctx context.Context, userID int64, payload Payload) {
	subs, err := n.subs.ListByUser(ctx, userID)
	if err != nil {
		n.logger.Error("list push subscriptions", "user_id", userID, "error", err)
		return
	}
	for i := range subs {
		sub := &subs[i]
		err := n.svc.Send(ctx, sub, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrExpired):
			n.logger.Info("removing expired push subscription", "subscription_id", sub.ID, "user_id", userID)
			if err := n.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				n.logger.Error("delete expired subscription", "subscription_id", sub.ID, "error", err)
			}
		default:
			n.logger.Warn("push send failed", "subscription_id", sub.ID, "user_id", userID, "error", err)
		}
	}
}

// Wait blocks until notifications in flight have been sent.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
