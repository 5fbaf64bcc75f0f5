package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/handler"
	"github.com/dukerupert/roomie/internal/middleware"
	"github.com/dukerupert/roomie/internal/push"
	"github.com/dukerupert/roomie/internal/realtime"
	"github.com/dukerupert/roomie/internal/store"
	"github.com/dukerupert/roomie/internal/task"
)

// Login and signup attempts allowed per client address and window.
const (
	authRateLimit  = 10
	authRateWindow = time.Minute
)

// Deps are the long-lived collaborators owned by the caller.
type Deps struct {
	DB *sql.DB
	// Broker serves the change feed; Publisher announces changes and may
	// be a relay fanning out to other instances.
	Broker    *realtime.Broker
	Publisher realtime.Publisher
	Points    task.Awarder
	Push      *push.Service
	// Avatars may be nil when no object storage is configured.
	Avatars handler.AvatarStorage
	// Mailer may be nil when no mail delivery is configured.
	Mailer         handler.Mailer
	SessionTTL     time.Duration
	SecureCookie   bool
	OriginPatterns []string
	Logger         *slog.Logger
}

type Server struct {
	db          *sql.DB
	broker      *realtime.Broker
	authH       *handler.AuthHandler
	accountH    *handler.AccountHandler
	householdH  *handler.HouseholdHandler
	taskH       *handler.TaskHandler
	shoppingH   *handler.ShoppingHandler
	chatH       *handler.ChatHandler
	statsH      *handler.StatisticsHandler
	profileH    *handler.ProfileHandler
	pushH       *handler.PushHandler
	wsH         *realtime.Handler
	sessions    *store.SessionStore
	households  *store.HouseholdStore
	emailTokens *store.EmailTokenStore
	rateLimiter *middleware.RateLimiter
	notifier    *push.Notifier
	logger      *slog.Logger
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = d.Broker
	}
	if d.Push == nil {
		d.Push = push.NewService(push.Config{})
	}

	profiles := store.NewProfileStore(d.DB)
	households := store.NewHouseholdStore(d.DB)
	sessions := store.NewSessionStore(d.DB, d.SessionTTL)
	tasks := store.NewTaskStore(d.DB)
	pushStore := store.NewPushStore(d.DB)
	emailTokens := store.NewEmailTokenStore(d.DB)

	notifier := push.NewNotifier(d.Push, pushStore, logger)
	taskSvc := task.NewService(task.Deps{
		Tasks:     tasks,
		Directory: households,
		Points:    d.Points,
		Publisher: d.Publisher,
		Notifier:  notifier,
		Logger:    logger,
	})

	authH := handler.NewAuthHandler(profiles, households, sessions, d.SessionTTL, d.SecureCookie, logger.With("component", "auth"))
	accountH := handler.NewAccountHandler(profiles, emailTokens, sessions, d.Mailer, logger.With("component", "account"))
	authH.OnSignup(accountH.Welcome)

	return &Server{
		db:          d.DB,
		broker:      d.Broker,
		authH:       authH,
		accountH:    accountH,
		householdH:  handler.NewHouseholdHandler(households, logger.With("component", "household")),
		taskH:       handler.NewTaskHandler(taskSvc, logger.With("component", "task_handler")),
		shoppingH:   handler.NewShoppingHandler(store.NewShoppingStore(d.DB), d.Publisher, logger.With("component", "shopping")),
		chatH:       handler.NewChatHandler(store.NewChatStore(d.DB), d.Publisher, logger.With("component", "chat")),
		statsH:      handler.NewStatisticsHandler(tasks, logger.With("component", "statistics")),
		profileH:    handler.NewProfileHandler(profiles, d.Avatars, logger.With("component", "profile")),
		pushH:       handler.NewPushHandler(pushStore, d.Push, logger.With("component", "push_handler")),
		wsH:         realtime.NewHandler(d.Broker, householdOf, d.OriginPatterns, logger),
		sessions:    sessions,
		households:  households,
		emailTokens: emailTokens,
		rateLimiter: middleware.NewRateLimiter(authRateLimit, authRateWindow),
		notifier:    notifier,
		logger:      logger,
	}
}

func householdOf(r *http.Request) (int64, bool) {
	id := auth.HouseholdID(r.Context())
	return id, id != 0
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessions
}

// EmailTokenStore returns the confirmation and reset code store for cleanup
// tasks.
func (s *Server) EmailTokenStore() *store.EmailTokenStore {
	return s.emailTokens
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Notifier returns the push notifier so shutdown can wait for sends.
func (s *Server) Notifier() *push.Notifier {
	return s.notifier
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.Handle("POST /api/signup", s.rateLimiter.Middleware(http.HandlerFunc(s.authH.Signup)))
	outerMux.Handle("POST /api/login", s.rateLimiter.Middleware(http.HandlerFunc(s.authH.Login)))
	outerMux.Handle("POST /api/password/forgot", s.rateLimiter.Middleware(http.HandlerFunc(s.accountH.ForgotPassword)))
	outerMux.Handle("POST /api/password/reset", s.rateLimiter.Middleware(http.HandlerFunc(s.accountH.ResetPassword)))
	outerMux.Handle("POST /api/email/confirm", s.rateLimiter.Middleware(http.HandlerFunc(s.accountH.ConfirmEmail)))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessions, s.households, s.logger.With("component", "auth"))
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	member := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireHousehold(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireHousehold(middleware.RequireAdmin(h))
	}

	// Session and profile routes work before a household is joined
	mux.HandleFunc("POST /api/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/me", s.authH.Me)
	mux.HandleFunc("POST /api/email/resend", s.accountH.ResendConfirmation)
	mux.HandleFunc("GET /api/profile", s.profileH.Get)
	mux.HandleFunc("PUT /api/profile", s.profileH.Update)
	mux.HandleFunc("POST /api/profile/avatar", s.profileH.UploadAvatar)

	mux.Handle("GET /api/household", member(s.householdH.Get))
	mux.Handle("PUT /api/household", admin(s.householdH.Update))
	mux.Handle("GET /api/household/members", member(s.householdH.Members))

	mux.Handle("GET /api/tasks", member(s.taskH.List))
	mux.Handle("POST /api/tasks", member(s.taskH.Create))
	mux.Handle("POST /api/tasks/{id}/complete", member(s.taskH.Complete))
	mux.Handle("PUT /api/tasks/{id}/assignee", member(s.taskH.Reassign))
	mux.Handle("DELETE /api/tasks/{id}", member(s.taskH.Delete))

	mux.Handle("GET /api/shopping-items", member(s.shoppingH.List))
	mux.Handle("POST /api/shopping-items", member(s.shoppingH.Create))
	mux.Handle("PUT /api/shopping-items/{id}", member(s.shoppingH.Update))
	mux.Handle("DELETE /api/shopping-items/{id}", member(s.shoppingH.Delete))

	mux.Handle("GET /api/chat", member(s.chatH.List))
	mux.Handle("POST /api/chat", member(s.chatH.Create))

	mux.Handle("GET /api/statistics", member(s.statsH.Get))

	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	mux.Handle("POST /api/push/subscribe", member(s.pushH.Subscribe))
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)

	// Change feed
	mux.Handle("GET /ws", middleware.RequireHousehold(s.wsH))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
