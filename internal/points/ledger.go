// Package points maintains member point balances. Increments are atomic at
// the store; awards triggered by task mutations are side effects that never
// fail the mutation and fall back to a durable outbox.
package points

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukerupert/roomie/internal/apperr"
)

const (
	PointsForCreate   = 5
	PointsForComplete = 10
)

// Incrementer adds to a user's balance in one atomic step and returns the
// new total.
type Incrementer interface {
	IncrementPoints(ctx context.Context, userID int64, amount int) (int, error)
}

type Ledger struct {
	inc    Incrementer
	outbox *Outbox
	logger *slog.Logger
}

// NewLedger returns a ledger over inc. outbox may be nil, in which case failed
// awards are only logged.
func NewLedger(inc Incrementer, outbox *Outbox, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{inc: inc, outbox: outbox, logger: logger.With("component", "points")}
}

// Increment adds amount to the user's points and returns the new total.
func (l *Ledger) Increment(ctx context.Context, userID int64, amount int) (int, error) {
	if amount < 0 {
		return 0, apperr.Validation("points amount must not be negative")
	}
	total, err := l.inc.IncrementPoints(ctx, userID, amount)
	if err != nil {
		return 0, apperr.Classify(err, "increment points")
	}
	return total, nil
}

// Award credits points as a consequence of another operation. Failures are
// logged; transient ones are queued in the outbox for a later retry.
func (l *Ledger) Award(ctx context.Context, userID int64, amount int, reason string) {
	total, err := l.Increment(ctx, userID, amount)
	if err == nil {
		l.logger.Debug("points awarded", "user_id", userID, "amount", amount, "reason", reason, "total", total)
		return
	}

	if !errors.Is(err, apperr.ErrTransient) {
		l.logger.Warn("points award dropped", "user_id", userID, "amount", amount, "reason", reason, "error", err)
		return
	}
	if l.outbox == nil {
		l.logger.Error("points award failed", "user_id", userID, "amount", amount, "reason", reason, "error", err)
		return
	}
	if qerr := l.outbox.Enqueue(PendingAward{UserID: userID, Amount: amount, Reason: reason}); qerr != nil {
		l.logger.Error("points award lost", "user_id", userID, "amount", amount, "reason", reason, "error", err, "outbox_error", qerr)
		return
	}
	l.logger.Warn("points award deferred", "user_id", userID, "amount", amount, "reason", reason, "error", err)
}
