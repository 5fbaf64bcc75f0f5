package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/realtime"
	"github.com/dukerupert/roomie/internal/store"
)

const maxChatMessageLength = 2000

type ChatHandler struct {
	messages *store.ChatStore
	pub      realtime.Publisher
	logger   *slog.Logger
}

func NewChatHandler(cs *store.ChatStore, pub realtime.Publisher, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{messages: cs, pub: pub, logger: logger}
}

// List handles GET /api/chat?limit=N
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			badRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	msgs, err := h.messages.ListRecent(r.Context(), auth.HouseholdID(r.Context()), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(msgs))
}

type chatRequest struct {
	Body string `json:"body"`
}

func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		badRequest(w, "body is required")
		return
	}
	if utf8.RuneCountInString(body) > maxChatMessageLength {
		badRequest(w, "message is too long")
		return
	}

	ac, _ := auth.FromContext(r.Context())
	msg, err := h.messages.Create(r.Context(), ac.HouseholdID, ac.UserID, body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	publish(h.pub, h.logger, realtime.EntityChatMessages, realtime.Inserted, msg.HouseholdID, msg.ID, msg)
	writeJSON(w, http.StatusCreated, msg)
}
