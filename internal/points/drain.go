package points

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/robfig/cron/v3"
)

type DrainConfig struct {
	BatchSize   int
	MaxAttempts int
}

// Drainer replays pending awards from the outbox.
type Drainer struct {
	outbox *Outbox
	inc    Incrementer
	cfg    DrainConfig
	logger *slog.Logger
}

func NewDrainer(outbox *Outbox, inc Incrementer, cfg DrainConfig, logger *slog.Logger) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{outbox: outbox, inc: inc, cfg: cfg, logger: logger.With("component", "points-outbox")}
}

// Drain applies one batch of pending awards. Awards for unknown users are
// dropped; other failures are requeued until MaxAttempts is reached.
func (d *Drainer) Drain(ctx context.Context) error {
	awards, err := d.outbox.Batch(d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}

	for _, a := range awards {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := d.inc.IncrementPoints(ctx, a.UserID, a.Amount)
		switch {
		case err == nil:
			d.logger.Info("deferred award applied", "award_id", a.ID, "user_id", a.UserID, "amount", a.Amount)
			if err := d.outbox.Remove(a); err != nil {
				d.logger.Warn("failed to remove applied award", "award_id", a.ID, "error", err)
			}
		case errors.Is(err, apperr.ErrNotFound):
			d.logger.Warn("dropping award for unknown user", "award_id", a.ID, "user_id", a.UserID)
			_ = d.outbox.Remove(a)
		case a.Attempts+1 >= d.cfg.MaxAttempts:
			d.logger.Error("dropping award after max attempts", "award_id", a.ID, "user_id", a.UserID, "attempts", a.Attempts+1, "error", err)
			_ = d.outbox.Remove(a)
		default:
			d.logger.Warn("deferred award failed", "award_id", a.ID, "attempts", a.Attempts+1, "error", err)
			if err := d.outbox.Requeue(a); err != nil {
				d.logger.Error("failed to requeue award", "award_id", a.ID, "error", err)
			}
		}
	}
	return nil
}

// Schedule registers Drain on c to run every interval.
func (d *Drainer) Schedule(c *cron.Cron, every time.Duration) (cron.EntryID, error) {
	return c.AddFunc("@every "+every.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), every)
		defer cancel()
		if err := d.Drain(ctx); err != nil {
			d.logger.Error("outbox drain failed", "error", err)
		}
	})
}
