// Package presence implements the session record store: the shared,
// live collection of presence records that every room client reads and
// writes. The store owns record identity, resolves server-assigned
// timestamps, and fans out full-collection snapshots to watchers; all
// multi-writer consistency is last-write-wins.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"focusroom/internal/models"
)

// ErrNotFound is returned by Update when the record no longer exists.
// Updates never resurrect a record the janitor (or a leave) removed.
var ErrNotFound = errors.New("presence: record not found")

// ConnectivityError wraps any store/network failure crossing the store
// boundary. Callers only ever see this type or ErrNotFound, never a
// driver-specific error.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("presence store %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Snapshot is the full authoritative collection at one point in time,
// ordered by LastSeen descending. Consumers diff against their own
// state; the store does not compute deltas.
type Snapshot struct {
	Records []models.PresenceRecord
}

// Find returns the record with the given ID, if present.
func (s Snapshot) Find(id string) (models.PresenceRecord, bool) {
	for _, rec := range s.Records {
		if rec.ID == id {
			return rec, true
		}
	}
	return models.PresenceRecord{}, false
}

// TotalOnline is the number of participants in the room.
func (s Snapshot) TotalOnline() int { return len(s.Records) }

// TimePatch selects the next value for a timestamp field in an Update.
// The zero value leaves the field untouched.
type TimePatch struct {
	set    bool
	clear  bool
	server bool
	value  time.Time
}

// KeepTime leaves the field unchanged.
func KeepTime() TimePatch { return TimePatch{} }

// ClearTime writes a null into the field.
func ClearTime() TimePatch { return TimePatch{set: true, clear: true} }

// ServerNow writes the store's authoritative clock reading, resolved at
// write time.
func ServerNow() TimePatch { return TimePatch{set: true, server: true} }

// TimeAt writes an explicit instant.
func TimeAt(t time.Time) TimePatch { return TimePatch{set: true, value: t} }

// IsSet reports whether the patch writes the field at all.
func (p TimePatch) IsSet() bool { return p.set }

// NeedsServerTime reports whether resolving the patch requires a server
// clock reading.
func (p TimePatch) NeedsServerTime() bool { return p.server }

// Resolve returns the concrete value to write given the server clock
// reading. nil means the field is cleared. Only meaningful when IsSet.
func (p TimePatch) Resolve(serverNow time.Time) *time.Time {
	switch {
	case p.clear:
		return nil
	case p.server:
		t := serverNow
		return &t
	default:
		t := p.value
		return &t
	}
}

// Patch is a partial update merged into an existing record. Zero-value
// fields are left untouched, so a heartbeat can refresh last-seen
// without rewriting the rest of the record.
type Patch struct {
	Status    models.PresenceStatus // empty = unchanged
	StartedAt TimePatch
	LastSeen  TimePatch
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Status == "" && !p.StartedAt.IsSet() && !p.LastSeen.IsSet()
}

// NeedsServerTime reports whether any field resolves against the server
// clock.
func (p Patch) NeedsServerTime() bool {
	return p.StartedAt.NeedsServerTime() || p.LastSeen.NeedsServerTime()
}

// Apply merges the patch into rec using serverNow for server-assigned
// timestamps. A cleared LastSeen is ignored; the field is never null.
func (p Patch) Apply(rec *models.PresenceRecord, serverNow time.Time) {
	if p.Status != "" {
		rec.Status = p.Status
	}
	if p.StartedAt.IsSet() {
		rec.StartedAt = p.StartedAt.Resolve(serverNow)
	}
	if p.LastSeen.IsSet() {
		if t := p.LastSeen.Resolve(serverNow); t != nil {
			rec.LastSeen = *t
		}
	}
}

// Store is the session record store contract. The Redis implementation
// backs production; the memory implementation backs tests and local
// tooling. Every method may fail with *ConnectivityError.
type Store interface {
	// Create persists a new record and returns its store-assigned ID.
	// A zero LastSeen is stamped with the store's clock at write time.
	Create(ctx context.Context, rec models.PresenceRecord) (string, error)

	// Update merges the patch into an existing record. Returns
	// ErrNotFound when the record is gone.
	Update(ctx context.Context, id string, patch Patch) error

	// Delete removes a record. Deleting an absent record is not an
	// error.
	Delete(ctx context.Context, id string) error

	// Read fetches one full snapshot of the collection.
	Read(ctx context.Context) (Snapshot, error)

	// Watch streams a fresh snapshot after every change to any record,
	// starting with the current state. The channel closes when ctx is
	// cancelled. Slow consumers only ever see the newest snapshot.
	Watch(ctx context.Context) (<-chan Snapshot, error)

	// ServerTime reads the store's authoritative clock.
	ServerTime(ctx context.Context) (time.Time, error)
}
