package models

import (
	"time"
)

type PresenceStatus string

const (
	StatusIdle   PresenceStatus = "idle"   // present in the room, not studying
	StatusActive PresenceStatus = "active" // studying, timer running
)

// PresenceRecord is the live, mutable record for one participant in the
// room. The record ID is assigned by the presence store on creation and
// is the only identity a record has; the stable per-install user ID used
// for history lives in room.Identity, not here.
//
// Invariant: Status == StatusActive exactly when StartedAt != nil. The
// lifecycle controller never writes a violating combination; records
// read back from the store are untrusted and are normalized for display
// via DisplayStatus.
type PresenceRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    PresenceStatus `json:"status"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	LastSeen  time.Time      `json:"last_seen"`
}

// Studying reports whether the record represents a running study timer.
func (r *PresenceRecord) Studying() bool {
	return r.Status == StatusActive && r.StartedAt != nil
}

// Consistent reports whether the status/start-time invariant holds.
func (r *PresenceRecord) Consistent() bool {
	return (r.Status == StatusActive) == (r.StartedAt != nil)
}

// DisplayStatus returns the status a UI should render. A record claiming
// active with no start time (or vice versa) came from a misbehaving
// writer; it is shown as idle rather than crashing or rendering a timer
// with no origin.
func (r *PresenceRecord) DisplayStatus() PresenceStatus {
	if !r.Consistent() {
		return StatusIdle
	}
	return r.Status
}

// Elapsed returns the running session duration at the given instant, or
// zero when no session is running.
func (r *PresenceRecord) Elapsed(now time.Time) time.Duration {
	if !r.Studying() {
		return 0
	}
	d := now.Sub(*r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}
