package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/logging"
	"github.com/dukerupert/roomie/internal/model"
	"github.com/dukerupert/roomie/internal/realtime"
)

type WatchCmd struct {
	Server   string        `help:"Base URL of the roomie server." default:"http://localhost:8080"`
	Session  string        `help:"Session token (value of the roomie_session cookie)." env:"ROOMIE_SESSION" required:""`
	Entity   string        `help:"Collection to mirror: tasks, shopping_items or chat_messages." default:"tasks" enum:"tasks,shopping_items,chat_messages"`
	Retry    time.Duration `help:"Delay before re-attaching after the feed drops." default:"3s"`
	LogLevel string        `help:"Log level." default:"warn"`
}

func (c *WatchCmd) Run() error {
	logger, closeLog := logging.Setup(logging.Options{Level: c.LogLevel})
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 15 * time.Second}
	entity := realtime.Entity(c.Entity)
	switch entity {
	case realtime.EntityTasks:
		return watch[model.Task](ctx, c, entity, client, os.Stdout, logger)
	case realtime.EntityShoppingItems:
		return watch[model.ShoppingItem](ctx, c, entity, client, os.Stdout, logger)
	case realtime.EntityChatMessages:
		return watch[model.ChatMessage](ctx, c, entity, client, os.Stdout, logger)
	}
	return fmt.Errorf("unknown entity %q", c.Entity)
}

// watch prints the mirrored list as one JSON array per change and attaches
// again whenever the feed goes stale.
func watch[T realtime.Record](ctx context.Context, c *WatchCmd, entity realtime.Entity, client *http.Client, out io.Writer, logger *slog.Logger) error {
	src, err := realtime.NewHTTPSource[T](c.Server, auth.CookieName, c.Session, client)
	if err != nil {
		return err
	}
	m := realtime.NewMirror[T](src, entity, logger)
	defer m.Detach()

	enc := json.NewEncoder(out)
	for ctx.Err() == nil {
		if err := m.Attach(ctx); err != nil {
			logger.Warn("attach failed", "error", err, "retry", c.Retry)
			if !sleep(ctx, c.Retry) {
				break
			}
			continue
		}
		select {
		case <-m.Changed():
		default:
		}
		if err := enc.Encode(m.Records()); err != nil {
			return err
		}

		for m.State() == realtime.StateAttached {
			select {
			case <-ctx.Done():
				return nil
			case <-m.Changed():
				if m.Stale() {
					continue
				}
				if err := enc.Encode(m.Records()); err != nil {
					return err
				}
			}
		}
		logger.Warn("feed dropped", "error", m.Err(), "retry", c.Retry)
		if !sleep(ctx, c.Retry) {
			break
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
