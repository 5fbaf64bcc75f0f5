package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/model"
	"github.com/dukerupert/roomie/internal/store"
)

type AuthHandler struct {
	profiles     *store.ProfileStore
	households   *store.HouseholdStore
	sessions     *store.SessionStore
	sessionTTL   time.Duration
	secureCookie bool
	onSignup     func(context.Context, *model.Profile)
	logger       *slog.Logger
}

// OnSignup registers fn to run after each successful signup.
func (h *AuthHandler) OnSignup(fn func(context.Context, *model.Profile)) {
	h.onSignup = fn
}

func NewAuthHandler(ps *store.ProfileStore, hs *store.HouseholdStore, ss *store.SessionStore, sessionTTL time.Duration, secureCookie bool, logger *slog.Logger) *AuthHandler {
	if sessionTTL <= 0 {
		sessionTTL = store.DefaultSessionTTL
	}
	return &AuthHandler{
		profiles:     ps,
		households:   hs,
		sessions:     ss,
		sessionTTL:   sessionTTL,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type signupRequest struct {
	Email         string              `json:"email"`
	Password      string              `json:"password"`
	FullName      string              `json:"full_name"`
	HouseholdName string              `json:"household_name"`
	HouseholdType model.HouseholdType `json:"household_type"`
	HouseholdID   *int64              `json:"household_id"`
}

func (req *signupRequest) validate() error {
	req.Email = normalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	req.HouseholdName = strings.TrimSpace(req.HouseholdName)

	switch {
	case !strings.Contains(req.Email, "@"):
		return apperr.Validation("a valid email is required")
	case len(req.Password) < auth.MinPasswordLength:
		return apperr.Validation("password must be at least 8 characters")
	case req.FullName == "":
		return apperr.Validation("full_name is required")
	case req.HouseholdID == nil && req.HouseholdName == "":
		return apperr.Validation("household_name or household_id is required")
	case req.HouseholdID != nil && req.HouseholdName != "":
		return apperr.Validation("give either household_name or household_id, not both")
	}
	if req.HouseholdID == nil {
		if req.HouseholdType == "" {
			req.HouseholdType = model.HouseholdTypeWG
		}
		if !req.HouseholdType.Valid() {
			return apperr.Validation("household_type must be wg, family or couple")
		}
	}
	return nil
}

type sessionResponse struct {
	Profile   *model.Profile   `json:"profile"`
	Household *model.Household `json:"household"`
	Role      string           `json:"role,omitempty"`
}

// Signup handles POST /api/signup. It creates the profile, founds or joins
// a household and starts a session.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, h.logger, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	profile, err := h.profiles.Create(r.Context(), req.Email, req.FullName, hash)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	household, role, err := h.settle(r.Context(), profile.ID, req)
	if err != nil {
		// Without a household the account is unusable; let the user retry.
		if derr := h.profiles.Delete(context.WithoutCancel(r.Context()), profile.ID); derr != nil {
			h.logger.Error("roll back profile", "user_id", profile.ID, "error", derr)
		}
		writeError(w, h.logger, err)
		return
	}

	if !h.startSession(w, r, profile.ID) {
		return
	}
	h.logger.Info("signup", "user_id", profile.ID, "household_id", household.ID, "role", role)
	if h.onSignup != nil {
		h.onSignup(r.Context(), profile)
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Profile: profile, Household: household, Role: role})
}

func (h *AuthHandler) settle(ctx context.Context, userID int64, req signupRequest) (*model.Household, string, error) {
	if req.HouseholdID == nil {
		hh, err := h.households.CreateWithFounder(ctx, userID, req.HouseholdName, req.HouseholdType)
		return hh, model.RoleAdmin, err
	}
	if _, err := h.households.Join(ctx, *req.HouseholdID, userID); err != nil {
		return nil, "", err
	}
	hh, err := h.households.GetByID(ctx, *req.HouseholdID)
	return hh, model.RoleMember, err
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)

	userID, hash, err := h.profiles.PasswordHash(r.Context(), email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	// Unknown emails and wrong passwords get the same answer
	if userID == 0 || !auth.CheckPassword(hash, req.Password) {
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error: "invalid email or password",
			Code:  string(apperr.CodeAuthorization),
		})
		return
	}

	if !h.startSession(w, r, userID) {
		return
	}
	resp, err := h.describe(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if err := h.sessions.Delete(r.Context(), ac.Token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	resp, err := h.describe(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) describe(ctx context.Context, userID int64) (sessionResponse, error) {
	profile, err := h.profiles.GetByID(ctx, userID)
	if err != nil {
		return sessionResponse{}, err
	}
	if profile == nil {
		return sessionResponse{}, apperr.NotFound("profile not found")
	}
	resp := sessionResponse{Profile: profile}
	m, err := h.households.GetMembership(ctx, userID)
	if err != nil {
		return sessionResponse{}, err
	}
	if m == nil {
		return resp, nil
	}
	resp.Role = m.Role
	resp.Household, err = h.households.GetByID(ctx, m.HouseholdID)
	return resp, err
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, userID int64) bool {
	sess, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}
