package models

import (
	"time"

	"github.com/google/uuid"
)

// Feedback is one post-session feedback entry. Append-only by policy:
// the client can create entries, never update or delete them.
type Feedback struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	UserName        string    `json:"user_name"`
	Rating          int       `json:"rating"` // 1..5
	Comment         string    `json:"comment"`
	DurationSeconds int       `json:"duration_seconds"` // session that prompted it, 0 if none
	CreatedAt       time.Time `json:"created_at"`
}
