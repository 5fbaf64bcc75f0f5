package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/model"
)

// HouseholdStore is the household directory: households, and the one
// membership row each user may have.
type HouseholdStore struct {
	db *sql.DB
}

func NewHouseholdStore(db *sql.DB) *HouseholdStore {
	return &HouseholdStore{db: db}
}

func scanHousehold(scanner interface{ Scan(...any) error }) (*model.Household, error) {
	var h model.Household
	err := scanner.Scan(&h.ID, &h.Name, &h.Type, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func scanMembership(scanner interface{ Scan(...any) error }) (*model.Membership, error) {
	var m model.Membership
	err := scanner.Scan(&m.ID, &m.HouseholdID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const householdCols = `id, name, type, created_at, updated_at`
const membershipCols = `id, household_id, user_id, role, created_at`

// CreateWithFounder inserts a household and makes userID its admin in one
// transaction.
func (s *HouseholdStore) CreateWithFounder(ctx context.Context, userID int64, name string, typ model.HouseholdType) (*model.Household, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_households WHERE user_id = ?`, userID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if existing > 0 {
		return nil, apperr.Validation("user already belongs to a household")
	}

	result, err := tx.ExecContext(ctx, `INSERT INTO households (name, type) VALUES (?, ?)`, name, typ)
	if err != nil {
		return nil, fmt.Errorf("insert household: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_households (household_id, user_id, role) VALUES (?, ?, ?)`,
		id, userID, model.RoleAdmin,
	); err != nil {
		return nil, fmt.Errorf("add founder: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *HouseholdStore) GetByID(ctx context.Context, id int64) (*model.Household, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	h, err := scanHousehold(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return h, nil
}

func (s *HouseholdStore) Update(ctx context.Context, id int64, name string, typ model.HouseholdType) (*model.Household, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE households SET name = ?, type = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, typ, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update household: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, apperr.NotFound("household not found")
	}
	return s.GetByID(ctx, id)
}

// Join adds userID to an existing household as a regular member.
func (s *HouseholdStore) Join(ctx context.Context, householdID, userID int64) (*model.Membership, error) {
	h, err := s.GetByID(ctx, householdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, apperr.NotFound("household not found")
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO user_households (household_id, user_id, role) VALUES (?, ?, ?)`,
		householdID, userID, model.RoleMember,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Validation("user already belongs to a household")
		}
		return nil, fmt.Errorf("join household: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+membershipCols+` FROM user_households WHERE id = ?`, id)
	return scanMembership(row)
}

// GetMembership returns the user's membership, or nil if the user has none.
func (s *HouseholdStore) GetMembership(ctx context.Context, userID int64) (*model.Membership, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+membershipCols+` FROM user_households WHERE user_id = ?`, userID)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// GetForUser returns the household the user belongs to, or nil.
func (s *HouseholdStore) GetForUser(ctx context.Context, userID int64) (*model.Household, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT h.id, h.name, h.type, h.created_at, h.updated_at
		 FROM households h
		 JOIN user_households uh ON h.id = uh.household_id
		 WHERE uh.user_id = ?`,
		userID,
	)
	h, err := scanHousehold(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household for user: %w", err)
	}
	return h, nil
}

func (s *HouseholdStore) IsMember(ctx context.Context, householdID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_households WHERE household_id = ? AND user_id = ?`,
		householdID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}

// ListMembers returns the household's members in join order.
func (s *HouseholdStore) ListMembers(ctx context.Context, householdID int64) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.email, p.full_name, p.avatar_url, p.points, p.created_at, p.updated_at, uh.role
		 FROM profiles p
		 JOIN user_households uh ON p.id = uh.user_id
		 WHERE uh.household_id = ?
		 ORDER BY uh.created_at ASC, uh.id ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(
			&m.ID, &m.Email, &m.FullName, &m.AvatarURL, &m.Points, &m.CreatedAt, &m.UpdatedAt, &m.Role,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
