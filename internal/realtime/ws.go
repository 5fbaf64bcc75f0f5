package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second

	// StatusLagged is the close code sent to a client whose subscription
	// was detached for falling behind.
	StatusLagged ws.StatusCode = 4000
)

// HouseholdFunc resolves the household of an authenticated request.
type HouseholdFunc func(r *http.Request) (int64, bool)

// Handler upgrades requests to WebSocket connections that stream the
// caller's household feed. The entities query parameter selects which
// collections are delivered.
type Handler struct {
	broker    *Broker
	household HouseholdFunc
	origins   []string
	logger    *slog.Logger
}

func NewHandler(b *Broker, household HouseholdFunc, originPatterns []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{broker: b, household: household, origins: originPatterns, logger: logger.With("component", "realtime-ws")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	householdID, ok := h.household(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	entities, err := ParseEntities(r.URL.Query().Get("entities"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sub := h.broker.Subscribe(householdID, entities...)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		readPump(ctx, conn)
	}()
	h.writePump(ctx, conn, sub)
}

// readPump discards client messages. It returns when the connection closes.
func readPump(ctx context.Context, conn *ws.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// writePump forwards subscription events to the socket and pings it
// periodically to detect dead peers.
func (h *Handler) writePump(ctx context.Context, conn *ws.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if errors.Is(sub.Err(), ErrLagged) {
					conn.Close(StatusLagged, "subscriber lagged")
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal event", "seq", ev.Seq, "error", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, ws.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
