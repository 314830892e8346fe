// Package history persists completed study sessions to durable,
// append-only storage, independent of the mutable presence records, so
// study-time analytics survive presence churn and janitor cleanup.
package history

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"focusroom/internal/models"
)

const (
	// minRecordedDuration filters out accidental double clicks.
	minRecordedDuration = 5 * time.Second

	// maxRecordedSeconds caps a single interval at 12 hours, matching
	// the database-side clamp.
	maxRecordedSeconds = 43200
)

// Appender is the append-only store the recorder writes to.
type Appender interface {
	Append(ctx context.Context, s *models.CompletedSession) error
}

// Recorder appends one row per finished study interval. It swallows
// its own failures: a lost analytics row is logged, never surfaced to
// the user who just ended a session.
type Recorder struct {
	store Appender
}

func NewRecorder(store Appender) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Record(ctx context.Context, userID uuid.UUID, userName string, start, end time.Time) {
	duration := end.Sub(start)
	if duration < minRecordedDuration {
		return
	}
	seconds := int(duration / time.Second)
	if seconds > maxRecordedSeconds {
		seconds = maxRecordedSeconds
	}
	s := &models.CompletedSession{
		UserID:          userID,
		UserName:        userName,
		DurationSeconds: seconds,
		StartedAt:       start,
		EndedAt:         end,
	}
	if err := r.store.Append(ctx, s); err != nil {
		log.Printf("history: recording %ds session for %s failed: %v", seconds, userName, err)
	}
}
