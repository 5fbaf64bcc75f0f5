package model

import "time"

type Task struct {
	ID                 int64      `json:"id"`
	HouseholdID        int64      `json:"household_id"`
	Title              string     `json:"title"`
	AssignedTo         int64      `json:"assigned_to"`
	CreatedBy          int64      `json:"created_by"`
	DueDate            *string    `json:"due_date"`
	QuickActionMinutes *int       `json:"quick_action_minutes"`
	Completed          bool       `json:"completed"`
	StartTime          *time.Time `json:"start_time"`
	CompletedAt        *time.Time `json:"completed_at"`
	CompletedBy        *int64     `json:"completed_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (t Task) RecordID() int64 { return t.ID }

// CompletedTask is a statistics history row.
type CompletedTask struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	AssignedTo  int64     `json:"assigned_to"`
	CompletedBy int64     `json:"completed_by"`
	CompletedAt time.Time `json:"completed_at"`
}
