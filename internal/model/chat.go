package model

import "time"

type ChatMessage struct {
	ID          int64     `json:"id"`
	HouseholdID int64     `json:"household_id"`
	AuthorID    int64     `json:"author_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

func (m ChatMessage) RecordID() int64 { return m.ID }
