package model

import "time"

type ShoppingItem struct {
	ID          int64     `json:"id"`
	HouseholdID int64     `json:"household_id"`
	Name        string    `json:"name"`
	Completed   bool      `json:"completed"`
	CreatedBy   int64     `json:"created_by"`
	DueDate     *string   `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (i ShoppingItem) RecordID() int64 { return i.ID }
