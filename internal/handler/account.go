package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/model"
	"github.com/dukerupert/roomie/internal/store"
)

const (
	maxCodeAttempts = 5
	confirmCodeTTL  = 24 * time.Hour
	resetCodeTTL    = time.Hour
)

// Mailer delivers the one-time codes of the account flows.
type Mailer interface {
	SendConfirmation(ctx context.Context, toEmail, code string) error
	SendPasswordReset(ctx context.Context, toEmail, code string) error
}

// AccountHandler serves address confirmation and password resets.
type AccountHandler struct {
	profiles *store.ProfileStore
	tokens   *store.EmailTokenStore
	sessions *store.SessionStore
	mailer   Mailer
	logger   *slog.Logger
}

// NewAccountHandler returns the handler. mailer may be nil, which disables
// the endpoints that send mail.
func NewAccountHandler(ps *store.ProfileStore, ts *store.EmailTokenStore, ss *store.SessionStore, mailer Mailer, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		profiles: ps,
		tokens:   ts,
		sessions: ss,
		mailer:   mailer,
		logger:   logger,
	}
}

func (h *AccountHandler) mailDisabled(w http.ResponseWriter) bool {
	if h.mailer != nil {
		return false
	}
	writeJSON(w, http.StatusNotImplemented, errorBody{Error: "email delivery is not configured", Code: "unavailable"})
	return true
}

// Welcome mails the confirmation code to a new profile. Failures are logged
// only; the user can ask for another code.
func (h *AccountHandler) Welcome(ctx context.Context, p *model.Profile) {
	if h.mailer == nil {
		return
	}
	if err := h.sendConfirmation(ctx, p.Email); err != nil {
		h.logger.Error("send confirmation", "user_id", p.ID, "error", err)
	}
}

func (h *AccountHandler) sendConfirmation(ctx context.Context, email string) error {
	et, err := h.tokens.Create(ctx, email, model.TokenPurposeConfirm, confirmCodeTTL)
	if err != nil {
		return err
	}
	if err := h.mailer.SendConfirmation(ctx, email, et.Code); err != nil {
		return apperr.Transient("send confirmation mail", err)
	}
	return nil
}

type emailRequest struct {
	Email string `json:"email"`
}

// ForgotPassword handles POST /api/password/forgot. The answer is the same
// whether or not the address is registered.
func (h *AccountHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if h.mailDisabled(w) {
		return
	}
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)
	if !strings.Contains(email, "@") {
		writeError(w, h.logger, apperr.Validation("a valid email is required"))
		return
	}

	userID, _, err := h.profiles.PasswordHash(r.Context(), email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if userID != 0 {
		if err := h.sendReset(r.Context(), email); err != nil {
			h.logger.Error("send password reset", "user_id", userID, "error", err)
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AccountHandler) sendReset(ctx context.Context, email string) error {
	et, err := h.tokens.Create(ctx, email, model.TokenPurposeReset, resetCodeTTL)
	if err != nil {
		return err
	}
	return h.mailer.SendPasswordReset(ctx, email, et.Code)
}

type resetRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// ResetPassword handles POST /api/password/reset. A successful reset ends
// every session of the account.
func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		writeError(w, h.logger, apperr.Validation("password must be at least 8 characters"))
		return
	}
	email := normalizeEmail(req.Email)
	if _, err := h.redeem(r.Context(), email, model.TokenPurposeReset, req.Code); err != nil {
		writeError(w, h.logger, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	userID, err := h.profiles.UpdatePassword(r.Context(), email, hash)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ended, err := h.sessions.DeleteForUser(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("password reset", "user_id", userID, "sessions_ended", ended)
	w.WriteHeader(http.StatusNoContent)
}

type confirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// ConfirmEmail handles POST /api/email/confirm.
func (h *AccountHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)
	if _, err := h.redeem(r.Context(), email, model.TokenPurposeConfirm, req.Code); err != nil {
		writeError(w, h.logger, err)
		return
	}
	p, err := h.profiles.ConfirmEmail(r.Context(), email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ResendConfirmation handles POST /api/email/resend for the signed-in user.
func (h *AccountHandler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	if h.mailDisabled(w) {
		return
	}
	p, err := h.profiles.GetByID(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if p == nil {
		writeError(w, h.logger, apperr.NotFound("profile not found"))
		return
	}
	if p.EmailConfirmedAt != nil {
		writeError(w, h.logger, apperr.Validation("email is already confirmed"))
		return
	}
	if err := h.sendConfirmation(r.Context(), p.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// redeem checks code against the live code for email and purpose and uses
// it up. Wrong guesses are counted; the code is burnt after
// maxCodeAttempts of them.
func (h *AccountHandler) redeem(ctx context.Context, email, purpose, code string) (*model.EmailToken, error) {
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, apperr.Validation("email and code are required")
	}

	latest, err := h.tokens.GetLatest(ctx, email, purpose)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, apperr.Validation("code has expired or was already used, request a new one")
	}
	if latest.Attempts >= maxCodeAttempts {
		if err := h.tokens.MarkUsed(ctx, latest.ID); err != nil {
			return nil, err
		}
		return nil, apperr.Validation("too many incorrect attempts, request a new code")
	}

	if subtle.ConstantTimeCompare([]byte(latest.Code), []byte(code)) != 1 {
		attempts, err := h.tokens.IncrementAttempts(ctx, latest.ID)
		if err != nil {
			return nil, err
		}
		if attempts >= maxCodeAttempts {
			if err := h.tokens.MarkUsed(ctx, latest.ID); err != nil {
				return nil, err
			}
			return nil, apperr.Validation("too many incorrect attempts, request a new code")
		}
		return nil, apperr.Validation("incorrect code")
	}

	if err := h.tokens.MarkUsed(ctx, latest.ID); err != nil {
		return nil, err
	}
	return latest, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
