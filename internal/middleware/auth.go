package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/model"
)

type Sessions interface {
	GetByToken(ctx context.Context, token string) (*model.Session, error)
}

type Memberships interface {
	GetMembership(ctx context.Context, userID int64) (*model.Membership, error)
}

// RequireAuth validates the session cookie and populates AuthContext. The
// household is looked up on every request, so joining or leaving takes
// effect without a new login.
func RequireAuth(sessions Sessions, memberships Memberships, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.CookieName)
			if err != nil || cookie.Value == "" {
				deny(w, http.StatusUnauthorized, apperr.CodeAuthorization, "not signed in")
				return
			}

			sess, err := sessions.GetByToken(r.Context(), cookie.Value)
			if err != nil {
				logger.Error("look up session", "error", err)
				deny(w, http.StatusServiceUnavailable, apperr.CodeTransient, "temporarily unavailable")
				return
			}
			if sess == nil {
				deny(w, http.StatusUnauthorized, apperr.CodeAuthorization, "session expired")
				return
			}

			ac := auth.AuthContext{
				UserID:    sess.UserID,
				SessionID: sess.ID,
				Token:     sess.Token,
			}

			m, err := memberships.GetMembership(r.Context(), sess.UserID)
			if err != nil {
				logger.Error("look up membership", "user_id", sess.UserID, "error", err)
				deny(w, http.StatusServiceUnavailable, apperr.CodeTransient, "temporarily unavailable")
				return
			}
			if m != nil {
				ac.HouseholdID = m.HouseholdID
				ac.Role = m.Role
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireHousehold rejects users that have not founded or joined a household.
func RequireHousehold(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.HouseholdID(r.Context()) == 0 {
			deny(w, http.StatusForbidden, apperr.CodeAuthorization, "no household")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			deny(w, http.StatusForbidden, apperr.CodeAuthorization, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": string(code)})
}
