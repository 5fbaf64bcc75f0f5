package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/roomie/internal/apperr"
	"github.com/dukerupert/roomie/internal/model"
)

type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func scanProfile(scanner interface{ Scan(...any) error }) (*model.Profile, error) {
	var p model.Profile
	var confirmedAt sql.NullTime
	err := scanner.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.Points, &confirmedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		p.EmailConfirmedAt = &confirmedAt.Time
	}
	return &p, nil
}

const profileCols = `id, email, full_name, avatar_url, points, email_confirmed_at, created_at, updated_at`

func (s *ProfileStore) Create(ctx context.Context, email, fullName, passwordHash string) (*model.Profile, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (email, full_name, password_hash) VALUES (?, ?, ?)`,
		strings.TrimSpace(email), fullName, passwordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Validation("email is already registered")
		}
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ProfileStore) GetByID(ctx context.Context, id int64) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// PasswordHash returns the stored hash for an email, with the profile id.
// An unknown email yields id 0 and an empty hash.
func (s *ProfileStore) PasswordHash(ctx context.Context, email string) (int64, string, error) {
	var id int64
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM profiles WHERE email = ?`, strings.TrimSpace(email),
	).Scan(&id, &hash)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("get password hash: %w", err)
	}
	return id, hash, nil
}

func (s *ProfileStore) UpdateName(ctx context.Context, id int64, fullName string) (*model.Profile, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET full_name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		fullName, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ProfileStore) UpdateAvatar(ctx context.Context, id int64, avatarURL string) (*model.Profile, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET avatar_url = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		avatarURL, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update avatar: %w", err)
	}
	return s.GetByID(ctx, id)
}

// UpdatePassword replaces the password hash of the profile with email and
// returns its id.
func (s *ProfileStore) UpdatePassword(ctx context.Context, email, passwordHash string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE profiles SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE email = ? RETURNING id`,
		passwordHash, strings.TrimSpace(email),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, apperr.NotFound("profile not found")
	}
	if err != nil {
		return 0, fmt.Errorf("update password: %w", err)
	}
	return id, nil
}

// ConfirmEmail marks the address of the profile with email as confirmed.
// Confirming twice keeps the first timestamp.
func (s *ProfileStore) ConfirmEmail(ctx context.Context, email string) (*model.Profile, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE profiles SET email_confirmed_at = COALESCE(email_confirmed_at, CURRENT_TIMESTAMP), updated_at = CURRENT_TIMESTAMP
		 WHERE email = ? RETURNING id`,
		strings.TrimSpace(email),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("confirm email: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ProfileStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

// IncrementPoints adds amount to the user's points in a single statement and
// returns the new total. The counter is never read back and rewritten, so
// concurrent increments cannot overwrite each other.
func (s *ProfileStore) IncrementPoints(ctx context.Context, userID int64, amount int) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`UPDATE profiles SET points = points + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? RETURNING points`,
		amount, userID,
	).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, apperr.NotFound("profile not found")
	}
	if err != nil {
		return 0, fmt.Errorf("increment points: %w", err)
	}
	return total, nil
}
