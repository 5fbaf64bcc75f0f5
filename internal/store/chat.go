package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/roomie/internal/model"
)

type ChatStore struct {
	db *sql.DB
}

func NewChatStore(db *sql.DB) *ChatStore {
	return &ChatStore{db: db}
}

const chatCols = `id, household_id, author_id, body, created_at`

// ListRecent returns up to limit of the newest messages, oldest first.
func (s *ChatStore) ListRecent(ctx context.Context, householdID int64, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chatCols+` FROM (
			SELECT `+chatCols+` FROM chat_messages WHERE household_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		householdID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.ChatMessage{}
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.HouseholdID, &m.AuthorID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *ChatStore) Create(ctx context.Context, householdID, authorID int64, body string) (*model.ChatMessage, error) {
	var m model.ChatMessage
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_messages (household_id, author_id, body) VALUES (?, ?, ?)
		 RETURNING `+chatCols,
		householdID, authorID, body,
	).Scan(&m.ID, &m.HouseholdID, &m.AuthorID, &m.Body, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	return &m, nil
}
