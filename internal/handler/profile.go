package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/avatar"
	"github.com/dukerupert/roomie/internal/store"
)

// AvatarStorage keeps uploaded profile pictures.
type AvatarStorage interface {
	Upload(ctx context.Context, userID int64, contentType string, body io.Reader, size int64) (string, error)
	Remove(ctx context.Context, url string) error
}

type ProfileHandler struct {
	profiles *store.ProfileStore
	avatars  AvatarStorage
	logger   *slog.Logger
}

// NewProfileHandler accepts a nil AvatarStorage, in which case uploads are
// rejected.
func NewProfileHandler(ps *store.ProfileStore, avatars AvatarStorage, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: ps, avatars: avatars, logger: logger}
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.GetByID(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if p == nil {
		writeError(w, h.logger, apperr.NotFound("profile not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type profileRequest struct {
	FullName string `json:"full_name"`
}

func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		badRequest(w, "full_name is required")
		return
	}
	p, err := h.profiles.UpdateName(r.Context(), auth.UserID(r.Context()), name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UploadAvatar handles POST /api/profile/avatar with a multipart "avatar"
// file. The content type is sniffed, not trusted from the client.
func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "avatar storage is not configured", Code: "unavailable"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, avatar.MaxSize+64<<10)
	file, _, err := r.FormFile("avatar")
	if err != nil {
		badRequest(w, "avatar file is required (max 2 MB)")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, avatar.MaxSize+1))
	if err != nil {
		badRequest(w, "could not read avatar")
		return
	}

	userID := auth.UserID(r.Context())
	current, err := h.profiles.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if current == nil {
		writeError(w, h.logger, apperr.NotFound("profile not found"))
		return
	}

	url, err := h.avatars.Upload(r.Context(), userID, http.DetectContentType(data), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	p, err := h.profiles.UpdateAvatar(r.Context(), userID, url)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if current.AvatarURL != "" {
		if err := h.avatars.Remove(context.WithoutCancel(r.Context()), current.AvatarURL); err != nil {
			h.logger.Warn("remove old avatar", "user_id", userID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, p)
}
