package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/roomie/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushCols = `id, user_id, household_id, endpoint, p256dh_key, auth_key, device_name, created_at`

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := scanner.Scan(&sub.ID, &sub.UserID, &sub.HouseholdID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Subscribe registers a browser endpoint for the user. Registering a known
// endpoint again refreshes its keys and owner.
func (s *PushStore) Subscribe(ctx context.Context, userID, householdID int64, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (user_id, household_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		   user_id = excluded.user_id,
		   household_id = excluded.household_id,
		   p256dh_key = excluded.p256dh_key,
		   auth_key = excluded.auth_key,
		   device_name = excluded.device_name
		 RETURNING `+pushCols,
		userID, householdID, endpoint, p256dh, auth, deviceName,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("create push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByUser(ctx context.Context, userID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pushCols+` FROM push_subscriptions WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by user: %w", err)
	}
	defer rows.Close()

	subs := []model.PushSubscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// Delete removes one of the user's subscriptions and reports whether it existed.
func (s *PushStore) Delete(ctx context.Context, userID, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PushStore) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
