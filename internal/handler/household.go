package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/model"
	"github.com/dukerupert/roomie/internal/store"
)

type HouseholdHandler struct {
	households *store.HouseholdStore
	logger     *slog.Logger
}

func NewHouseholdHandler(hs *store.HouseholdStore, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{households: hs, logger: logger}
}

// Get handles GET /api/household
func (h *HouseholdHandler) Get(w http.ResponseWriter, r *http.Request) {
	hh, err := h.households.GetForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if hh == nil {
		writeError(w, h.logger, apperr.NotFound("household not found"))
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

type householdRequest struct {
	Name string              `json:"name"`
	Type model.HouseholdType `json:"type"`
}

// Update handles PUT /api/household. Admin only.
func (h *HouseholdHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req householdRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	if !req.Type.Valid() {
		badRequest(w, "type must be wg, family or couple")
		return
	}

	hh, err := h.households.Update(r.Context(), auth.HouseholdID(r.Context()), req.Name, req.Type)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

// Members handles GET /api/household/members
func (h *HouseholdHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.households.ListMembers(r.Context(), auth.HouseholdID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(members))
}
