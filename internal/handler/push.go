package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/push"
	"github.com/dukerupert/roomie/internal/store"
)

type PushHandler struct {
	pushStore *store.PushStore
	service   *push.Service
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, svc *push.Service, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, service: svc, logger: logger}
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		badRequest(w, "endpoint, p256dh, and auth are required")
		return
	}
	if !strings.HasPrefix(req.Endpoint, "https://") {
		badRequest(w, "endpoint must be an https URL")
		return
	}

	ac, _ := auth.FromContext(r.Context())
	sub, err := h.pushStore.Subscribe(r.Context(), ac.UserID, ac.HouseholdID, req.Endpoint, req.P256dh, req.Auth, req.DeviceName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badRequest(w, "invalid id")
		return
	}

	found, err := h.pushStore.Delete(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !found {
		writeError(w, h.logger, apperr.NotFound("subscription not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.pushStore.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(subs))
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"public_key": h.service.VAPIDPublicKey(),
		"enabled":    h.service.Enabled(),
	})
}
