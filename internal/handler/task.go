package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/task"
)

type TaskHandler struct {
	tasks  *task.Service
	logger *slog.Logger
}

func NewTaskHandler(svc *task.Service, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: svc, logger: logger}
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	tasks, err := h.tasks.List(r.Context(), ac.UserID, ac.HouseholdID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(tasks))
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in task.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	ac, _ := auth.FromContext(r.Context())
	t, err := h.tasks.Create(r.Context(), ac.UserID, ac.HouseholdID, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badRequest(w, "invalid id")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	t, err := h.tasks.Complete(r.Context(), ac.UserID, ac.HouseholdID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type assigneeRequest struct {
	AssignedTo int64 `json:"assigned_to"`
}

func (h *TaskHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badRequest(w, "invalid id")
		return
	}
	var req assigneeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ac, _ := auth.FromContext(r.Context())
	t, err := h.tasks.Reassign(r.Context(), ac.UserID, ac.HouseholdID, id, req.AssignedTo)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badRequest(w, "invalid id")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	if err := h.tasks.Delete(r.Context(), ac.UserID, ac.HouseholdID, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
