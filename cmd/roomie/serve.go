package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/dukerupert/roomie/internal/avatar"
	"github.com/dukerupert/roomie/internal/config"
	"github.com/dukerupert/roomie/internal/database"
	"github.com/dukerupert/roomie/internal/email"
	"github.com/dukerupert/roomie/internal/logging"
	"github.com/dukerupert/roomie/internal/points"
	"github.com/dukerupert/roomie/internal/push"
	"github.com/dukerupert/roomie/internal/realtime"
	"github.com/dukerupert/roomie/internal/server"
	"github.com/dukerupert/roomie/internal/store"
)

const (
	relayChannel    = "roomie:changes"
	sessionSweep    = time.Hour
	rateLimitSweep  = 5 * time.Minute
	relayRetryDelay = 5 * time.Second
)

type ServeCmd struct{}

func (c *ServeCmd) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closeLog := logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", "path", cfg.DBPath)

	profiles := store.NewProfileStore(db)
	jobs := cron.New()

	var outbox *points.Outbox
	if cfg.Outbox.Path != "" {
		outbox, err = points.OpenOutbox(cfg.Outbox.Path, logger.With("component", "outbox"))
		if err != nil {
			return err
		}
		defer outbox.Close()
		drainer := points.NewDrainer(outbox, profiles, points.DrainConfig{
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
		}, logger)
		if _, err := drainer.Schedule(jobs, cfg.Outbox.Interval); err != nil {
			return err
		}
		logger.Info("points outbox enabled", "path", cfg.Outbox.Path, "interval", cfg.Outbox.Interval)
	}
	ledger := points.NewLedger(profiles, outbox, logger)

	broker := realtime.NewBroker(logger)
	var publisher realtime.Publisher = broker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		relay := realtime.NewRedisRelay(rdb, broker, relayChannel, logger)
		publisher = relay
		go runRelay(ctx, relay, logger)
		logger.Info("change feed relay enabled", "channel", relayChannel)
	}

	deps := server.Deps{
		DB:        db,
		Broker:    broker,
		Publisher: publisher,
		Points:    ledger,
		Push: push.NewService(push.Config{
			VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
			Subject:         cfg.Push.Subject,
		}),
		SessionTTL:     cfg.Session.TTL,
		SecureCookie:   cfg.Session.SecureCookie,
		OriginPatterns: cfg.OriginPatterns,
		Logger:         logger,
	}
	if avatars := avatar.New(avatar.Config(cfg.S3)); avatars != nil {
		deps.Avatars = avatars
	} else {
		logger.Info("avatar uploads disabled: no S3 bucket configured")
	}
	if mailer := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From, cfg.Email.BaseURL); mailer.Configured() {
		deps.Mailer = mailer
	} else {
		logger.Info("account mails disabled: no Postmark token configured")
	}
	srv := server.New(deps)

	if _, err := jobs.AddFunc("@every "+sessionSweep.String(), func() {
		n, err := srv.SessionStore().DeleteExpired(context.Background())
		if err != nil {
			logger.Error("session cleanup", "error", err)
			return
		}
		if n > 0 {
			logger.Info("expired sessions removed", "count", n)
		}
	}); err != nil {
		return err
	}
	if _, err := jobs.AddFunc("@every "+sessionSweep.String(), func() {
		n, err := srv.EmailTokenStore().DeleteExpired(context.Background())
		if err != nil {
			logger.Error("email code cleanup", "error", err)
			return
		}
		if n > 0 {
			logger.Info("expired email codes removed", "count", n)
		}
	}); err != nil {
		return err
	}
	if _, err := srv.RateLimiter().Schedule(jobs, rateLimitSweep); err != nil {
		return err
	}
	jobs.Start()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("roomie running", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	<-jobs.Stop().Done()
	srv.Notifier().Wait()
	return nil
}

// runRelay keeps the Redis subscription alive until ctx ends.
func runRelay(ctx context.Context, relay *realtime.RedisRelay, logger *slog.Logger) {
	for {
		err := relay.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("change feed relay stopped, retrying", "error", err, "delay", relayRetryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(relayRetryDelay):
		}
	}
}
