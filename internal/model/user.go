package model

import "time"

type Profile struct {
	ID               int64      `json:"id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	AvatarURL        string     `json:"avatar_url,omitempty"`
	Points           int        `json:"points"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// MemberStats is a leaderboard row.
type MemberStats struct {
	UserID         int64  `json:"user_id"`
	FullName       string `json:"full_name"`
	Points         int    `json:"points"`
	CompletedTasks int    `json:"completed_tasks"`
}

const (
	TokenPurposeConfirm = "confirm"
	TokenPurposeReset   = "reset"
)

// EmailToken is a one-time code mailed to confirm an address or reset a
// password.
type EmailToken struct {
	ID        int64      `json:"id"`
	Code      string     `json:"-"`
	Email     string     `json:"email"`
	Purpose   string     `json:"purpose"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
}
