package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"focusroom/internal/models"
)

// MemoryStore is an in-process Store with the same contract as the
// Redis one: store-assigned IDs, server-resolved timestamps, snapshot
// fan-out on every change. Tests drive it with an injected clock,
// per-operation failure injection, and Put/Remove to simulate writes
// from other participants or the janitor.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]models.PresenceRecord
	watchers  map[int]chan Snapshot
	nextWatch int
	clock     func() time.Time

	createErr error
	updateErr error
	deleteErr error

	creates int
	updates int
	deletes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]models.PresenceRecord),
		watchers: make(map[int]chan Snapshot),
		clock:    time.Now,
	}
}

// SetClock replaces the server clock used for ServerNow patches and
// ServerTime reads.
func (s *MemoryStore) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = fn
}

// FailCreates makes subsequent Creates fail with err. nil restores
// normal operation. FailUpdates and FailDeletes work the same way.
func (s *MemoryStore) FailCreates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

func (s *MemoryStore) FailUpdates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

func (s *MemoryStore) FailDeletes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = err
}

// Creates reports how many Create calls reached the store, including
// failed ones. Updates and Deletes count the same way.
func (s *MemoryStore) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *MemoryStore) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *MemoryStore) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

// Get returns the stored record with the given ID.
func (s *MemoryStore) Get(id string) (models.PresenceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Put writes a record as if another participant created or changed it,
// then notifies watchers. The record must carry an ID.
func (s *MemoryStore) Put(rec models.PresenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	s.broadcastLocked()
}

// Remove deletes a record as if the janitor evicted it, then notifies
// watchers.
func (s *MemoryStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	s.broadcastLocked()
}

func (s *MemoryStore) Create(ctx context.Context, rec models.PresenceRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.createErr != nil {
		return "", &ConnectivityError{Op: "create", Err: s.createErr}
	}
	id := uuid.New().String()
	rec.ID = id
	if rec.LastSeen.IsZero() {
		rec.LastSeen = s.clock()
	}
	s.records[id] = rec
	s.broadcastLocked()
	return id, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return &ConnectivityError{Op: "update", Err: s.updateErr}
	}
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	patch.Apply(&rec, s.clock())
	s.records[id] = rec
	s.broadcastLocked()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.deleteErr != nil {
		return &ConnectivityError{Op: "delete", Err: s.deleteErr}
	}
	delete(s.records, id)
	s.broadcastLocked()
	return nil
}

func (s *MemoryStore) Read(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan Snapshot, error) {
	s.mu.Lock()
	ch := make(chan Snapshot, 1)
	ch <- s.snapshotLocked()
	token := s.nextWatch
	s.nextWatch++
	s.watchers[token] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, token)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

func (s *MemoryStore) ServerTime(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock(), nil
}

func (s *MemoryStore) snapshotLocked() Snapshot {
	records := make([]models.PresenceRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].LastSeen.Equal(records[j].LastSeen) {
			return records[i].LastSeen.After(records[j].LastSeen)
		}
		return records[i].ID < records[j].ID
	})
	return Snapshot{Records: records}
}

func (s *MemoryStore) broadcastLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.watchers {
		sendLatest(ch, snap)
	}
}
