package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/model"
	"github.com/dukerupert/roomie/internal/store"
)

type StatisticsHandler struct {
	tasks  *store.TaskStore
	logger *slog.Logger
}

func NewStatisticsHandler(ts *store.TaskStore, logger *slog.Logger) *StatisticsHandler {
	return &StatisticsHandler{tasks: ts, logger: logger}
}

type statisticsResponse struct {
	History     []model.CompletedTask `json:"history"`
	Leaderboard []model.MemberStats   `json:"leaderboard"`
}

// Get handles GET /api/statistics
func (h *StatisticsHandler) Get(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())
	history, err := h.tasks.ListCompleted(r.Context(), householdID, 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	board, err := h.tasks.MemberStats(r.Context(), householdID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statisticsResponse{
		History:     emptyIfNil(history),
		Leaderboard: emptyIfNil(board),
	})
}
