package model

import "time"

type HouseholdType string

const (
	HouseholdTypeWG     HouseholdType = "wg"
	HouseholdTypeFamily HouseholdType = "family"
	HouseholdTypeCouple HouseholdType = "couple"
)

func (t HouseholdType) Valid() bool {
	switch t {
	case HouseholdTypeWG, HouseholdTypeFamily, HouseholdTypeCouple:
		return true
	}
	return false
}

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Household struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Type      HouseholdType `json:"type"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Membership associates a user with the single household they belong to.
type Membership struct {
	ID          int64     `json:"id"`
	HouseholdID int64     `json:"household_id"`
	UserID      int64     `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is a profile as seen from its household.
type Member struct {
	Profile
	Role string `json:"role"`
}
