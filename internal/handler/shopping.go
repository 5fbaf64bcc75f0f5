package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/model"
	"github.com/dukerupert/roomie/internal/realtime"
	"github.com/dukerupert/roomie/internal/store"
)

type ShoppingHandler struct {
	items  *store.ShoppingStore
	pub    realtime.Publisher
	logger *slog.Logger
}

func NewShoppingHandler(ss *store.ShoppingStore, pub realtime.Publisher, logger *slog.Logger) *ShoppingHandler {
	return &ShoppingHandler{items: ss, pub: pub, logger: logger}
}

func (h *ShoppingHandler) broadcast(typ realtime.ChangeType, householdID, id int64, rec any) {
	publish(h.pub, h.logger, realtime.EntityShoppingItems, typ, householdID, id, rec)
}

func (h *ShoppingHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.List(r.Context(), auth.HouseholdID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(items))
}

type shoppingRequest struct {
	Name      *string `json:"name"`
	Completed *bool   `json:"completed"`
	// DueDate set to "" clears it.
	DueDate *string `json:"due_date"`
}

func (h *ShoppingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req shoppingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		badRequest(w, "name is required")
		return
	}
	due, err := model.ParseDate(req.DueDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	ac, _ := auth.FromContext(r.Context())
	item, err := h.items.Create(r.Context(), ac.HouseholdID, ac.UserID, strings.TrimSpace(*req.Name), due)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.broadcast(realtime.Inserted, item.HouseholdID, item.ID, item)
	writeJSON(w, http.StatusCreated, item)
}

// Update handles PUT /api/shopping-items/{id}. Absent fields keep their
// current value.
func (h *ShoppingHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badRequest(w, "invalid id")
		return
	}
	var req shoppingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	householdID := auth.HouseholdID(r.Context())
	item, err := h.items.GetByID(r.Context(), householdID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if item == nil {
		writeError(w, h.logger, apperr.NotFound("shopping item not found"))
		return
	}

	name, completed, due := item.Name, item.Completed, item.DueDate
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			badRequest(w, "name must not be empty")
			return
		}
	}
	if req.Completed != nil {
		completed = *req.Completed
	}
	if req.DueDate != nil {
		if due, err = model.ParseDate(req.DueDate); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	updated, err := h.items.Update(r.Context(), householdID, id, name, completed, due)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.broadcast(realtime.Updated, householdID, id, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (h *ShoppingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badRequest(w, "invalid id")
		return
	}
	householdID := auth.HouseholdID(r.Context())
	if err := h.items.Delete(r.Context(), householdID, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.broadcast(realtime.Deleted, householdID, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func publish(pub realtime.Publisher, logger *slog.Logger, entity realtime.Entity, typ realtime.ChangeType, householdID, id int64, rec any) {
	if pub == nil {
		return
	}
	ev, err := realtime.NewEvent(entity, typ, householdID, id, rec)
	if err != nil {
		logger.Error("build change event", "entity", entity, "id", id, "error", err)
		return
	}
	pub.Publish(ev)
}
