package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/roomie/internal/apperr"
)

const maxBodyBytes = 1 << 20

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps a classified error to its status. Transient failures are
// logged with detail and reported with a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code == apperr.CodeTransient {
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error: "temporarily unavailable, try again",
			Code:  string(apperr.CodeTransient),
		})
		return
	}

	status := http.StatusBadRequest
	switch ae.Code {
	case apperr.CodeAuthorization:
		status = http.StatusForbidden
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeAlreadyCompleted:
		status = http.StatusConflict
	}
	msg := ae.Message
	if msg == "" {
		msg = string(ae.Code)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: string(ae.Code)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: string(apperr.CodeValidation)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON")
		return false
	}
	return true
}

// emptyIfNil keeps list endpoints from encoding null.
func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
