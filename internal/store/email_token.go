package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/dukerupert/roomie/internal/model"
)

// EmailTokenStore holds the one-time codes sent for address confirmation and
// password resets. At most one code per email and purpose is live.
type EmailTokenStore struct {
	db *sql.DB
}

func NewEmailTokenStore(db *sql.DB) *EmailTokenStore {
	return &EmailTokenStore{db: db}
}

func scanEmailToken(scanner interface{ Scan(...any) error }) (*model.EmailToken, error) {
	var et model.EmailToken
	var usedAt sql.NullTime
	err := scanner.Scan(
		&et.ID, &et.Code, &et.Email, &et.Purpose, &et.ExpiresAt, &usedAt, &et.Attempts, &et.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		et.UsedAt = &usedAt.Time
	}
	return &et, nil
}

const emailTokenCols = `id, code, email, purpose, expires_at, used_at, attempts, created_at`

// generateCode returns a 6-digit numeric code (100000-999999).
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Create issues a new code valid for ttl. Earlier unused codes for the same
// email and purpose are invalidated first.
func (s *EmailTokenStore) Create(ctx context.Context, email, purpose string, ttl time.Duration) (*model.EmailToken, error) {
	email = strings.TrimSpace(email)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE email_tokens SET used_at = ? WHERE email = ? AND purpose = ? AND used_at IS NULL`,
		now, email, purpose,
	); err != nil {
		return nil, fmt.Errorf("invalidate previous codes: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO email_tokens (code, email, purpose, expires_at) VALUES (?, ?, ?, ?)`,
		code, email, purpose, now.Add(ttl),
	)
	if err != nil {
		return nil, fmt.Errorf("insert email token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+emailTokenCols+` FROM email_tokens WHERE id = ?`, id)
	return scanEmailToken(row)
}

// GetLatest returns the live code for email and purpose, or nil when there
// is none or it has expired.
func (s *EmailTokenStore) GetLatest(ctx context.Context, email, purpose string) (*model.EmailToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emailTokenCols+` FROM email_tokens
		 WHERE email = ? AND purpose = ? AND used_at IS NULL
		 ORDER BY id DESC LIMIT 1`,
		strings.TrimSpace(email), purpose,
	)
	et, err := scanEmailToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email token: %w", err)
	}
	if time.Now().After(et.ExpiresAt) {
		return nil, nil
	}
	return et, nil
}

// IncrementAttempts records a wrong guess and returns the new count.
func (s *EmailTokenStore) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE email_tokens SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id,
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

func (s *EmailTokenStore) MarkUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE email_tokens SET used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark email token used: %w", err)
	}
	return nil
}

// DeleteExpired removes expired codes and reports how many were removed.
func (s *EmailTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM email_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired email tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
