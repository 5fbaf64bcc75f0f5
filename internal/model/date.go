package model

import (
	"strings"
	"time"

	"github.com/dukerupert/roomie/internal/apperr"
)

// DateLayout is the wire and storage format of due dates.
const DateLayout = "2006-01-02"

// ParseDate validates a due date in YYYY-MM-DD form and returns it trimmed.
// Nil or blank means no date.
func ParseDate(in *string) (*string, error) {
	if in == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*in)
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse(DateLayout, v)
	if err != nil || d.Format(DateLayout) != v {
		return nil, apperr.Validation("due_date must be a date in YYYY-MM-DD form")
	}
	return &v, nil
}
