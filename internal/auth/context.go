package auth

import (
	"context"

	"github.com/dukerupert/roomie/internal/model"
)

// CookieName is the session cookie set at login.
const CookieName = "roomie_session"

type contextKey struct{}

// AuthContext is the identity of a request. HouseholdID and Role are
// resolved from the membership table on every request and are zero when the
// user has no household.
type AuthContext struct {
	UserID      int64
	HouseholdID int64
	Role        string
	SessionID   int64
	Token       string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func HouseholdID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.HouseholdID
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == model.RoleAdmin
}
