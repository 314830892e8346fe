package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"focusroom/internal/models"
	"focusroom/internal/presence"
)

type recordedSession struct {
	userID uuid.UUID
	name   string
	start  time.Time
	end    time.Time
}

type stubRecorder struct {
	mu       sync.Mutex
	sessions []recordedSession
}

func (r *stubRecorder) Record(ctx context.Context, userID uuid.UUID, name string, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, recordedSession{userID, name, start, end})
}

func (r *stubRecorder) all() []recordedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedSession(nil), r.sessions...)
}

// testClock is a hand-advanced clock shared between a store and its
// clients so server and local time agree in tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openClient(t *testing.T, store *presence.MemoryStore, rec SessionRecorder, ident IdentityStore, cfg Config) *Client {
	t.Helper()
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour
	}
	c := NewClient(store, rec, ident, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := c.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitState(t *testing.T, c *Client, what string, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := c.State()
		if cond(st) {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last state: %+v", what, c.State())
	return State{}
}

func joinAndConfirm(t *testing.T, c *Client, name string) string {
	t.Helper()
	if err := c.Join(context.Background(), name); err != nil {
		t.Fatalf("join: %v", err)
	}
	st := waitState(t, c, "join echo", func(st State) bool {
		return st.Current != nil && st.Current.ID != "" && !st.Joining
	})
	return st.Current.ID
}

func TestJoinRoundTrip(t *testing.T) {
	store := presence.NewMemoryStore()
	c := openClient(t, store, &stubRecorder{}, NewMemoryIdentity(), Config{})

	if err := c.Join(context.Background(), "  Alice  "); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Optimistic state is visible before any echo.
	st := c.State()
	if st.Current == nil || st.Current.Name != "Alice" {
		t.Fatalf("current = %+v, want optimistic Alice", st.Current)
	}
	if st.Current.Status != models.StatusIdle || st.Current.StartedAt != nil {
		t.Fatalf("joined record must be idle with no start time, got %+v", st.Current)
	}

	st = waitState(t, c, "confirmed join", func(st State) bool {
		return st.Current != nil && st.Current.ID != ""
	})
	id := st.Current.ID
	stored, ok := store.Get(id)
	if !ok {
		t.Fatalf("record %s missing from store", id)
	}
	if stored.LastSeen.IsZero() {
		t.Error("store should stamp lastSeen on create")
	}

	ident, _ := c.identity.Load()
	if ident.SessionID != id {
		t.Fatalf("identity session = %q, want %q", ident.SessionID, id)
	}
	if ident.UserID == uuid.Nil {
		t.Error("user ID should be minted on open")
	}
}

func TestJoinValidation(t *testing.T) {
	store := presence.NewMemoryStore()
	c := openClient(t, store, &stubRecorder{}, NewMemoryIdentity(), Config{})

	var valErr *ValidationError
	if err := c.Join(context.Background(), "   "); !errors.As(err, &valErr) {
		t.Fatalf("blank name: err = %v, want ValidationError", err)
	}

	long := make([]rune, maxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := c.Join(context.Background(), string(long)); !errors.As(err, &valErr) {
		t.Fatalf("long name: err = %v, want ValidationError", err)
	}

	if store.Creates() != 0 {
		t.Fatalf("creates = %d, validation must reject before any remote call", store.Creates())
	}
}

func TestJoinTwiceRejected(t *testing.T) {
	store := presence.NewMemoryStore()
	c := openClient(t, store, &stubRecorder{}, NewMemoryIdentity(), Config{})

	joinAndConfirm(t, c, "Alice")
	if err := c.Join(context.Background(), "Alice"); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("err = %v, want ErrAlreadyJoined", err)
	}
}

func TestJoinFailureRollsBack(t *testing.T) {
	store := presence.NewMemoryStore()
	ident := NewMemoryIdentity()
	c := openClient(t, store, &stubRecorder{}, ident, Config{})

	boom := errors.New("connection refused")
	store.FailCreates(boom)

	err := c.Join(context.Background(), "Alice")
	var connErr *presence.ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectivityError", err)
	}

	st := c.State()
	if st.Current != nil {
		t.Fatalf("current = %+v, failed join must roll back to nil", st.Current)
	}
	if st.Joining {
		t.Error("joining flag must clear after rollback")
	}
	if st.Err == nil {
		t.Error("error should be surfaced in state")
	}
	loaded, _ := ident.Load()
	if loaded.SessionID != "" {
		t.Error("failed join must not persist a session identity")
	}

	// The client recovers once the store does.
	store.FailCreates(nil)
	joinAndConfirm(t, c, "Alice")
}

func TestSnapshotSuppressedWhileJoining(t *testing.T) {
	c := NewClient(presence.NewMemoryStore(), &stubRecorder{}, NewMemoryIdentity(), Config{})
	c.mu.Lock()
	c.op.begin(opJoin)
	c.current = &models.PresenceRecord{Name: "Alice", Status: models.StatusIdle, LastSeen: time.Now()}
	c.mu.Unlock()

	// A stale pre-write snapshot shows an empty room; it must not
	// clobber the optimistic record.
	c.reconcile(presence.Snapshot{})

	st := c.State()
	if st.Current == nil || st.Current.Name != "Alice" {
		t.Fatalf("suppressed snapshot altered current: %+v", st.Current)
	}
	if !st.Joining {
		t.Error("joining flag should still be up")
	}

	// The roster itself is never suppressed.
	other := models.PresenceRecord{ID: "b", Name: "Bob", Status: models.StatusIdle, LastSeen: time.Now()}
	c.reconcile(presence.Snapshot{Records: []models.PresenceRecord{other}})
	st = c.State()
	if st.TotalOnline != 1 || st.Roster[0].Name != "Bob" {
		t.Fatalf("roster not updated during suppression: %+v", st.Roster)
	}
	if st.Current == nil || st.Current.Name != "Alice" {
		t.Fatalf("current altered during suppression: %+v", st.Current)
	}
}

func TestJoinEchoEndsSuppression(t *testing.T) {
	c := NewClient(presence.NewMemoryStore(), &stubRecorder{}, NewMemoryIdentity(), Config{})
	seen := time.Now()
	c.mu.Lock()
	c.op.begin(opJoin)
	c.op.confirm()
	c.ident.SessionID = "s1"
	c.current = &models.PresenceRecord{ID: "s1", Name: "Alice", Status: models.StatusIdle, LastSeen: seen}
	c.mu.Unlock()

	// Stale echo without our record: still suppressed, no implicit
	// leave.
	c.reconcile(presence.Snapshot{})
	if st := c.State(); st.Current == nil {
		t.Fatal("confirmed join must keep the optimistic record until the echo lands")
	}

	auth := models.PresenceRecord{ID: "s1", Name: "Alice", Status: models.StatusIdle, LastSeen: seen.Add(time.Second)}
	c.reconcile(presence.Snapshot{Records: []models.PresenceRecord{auth}})

	c.mu.Lock()
	suppressed := c.op.suppresses()
	c.mu.Unlock()
	if suppressed {
		t.Error("suppression should end once the echo lands")
	}
}

func TestEndSessionIdempotentWhenIdle(t *testing.T) {
	store := presence.NewMemoryStore()
	rec := &stubRecorder{}
	c := openClient(t, store, rec, NewMemoryIdentity(), Config{})
	joinAndConfirm(t, c, "Alice")

	res, err := c.EndSession(context.Background())
	if err != nil {
		t.Fatalf("end on idle session: %v", err)
	}
	if res.Duration != 0 || res.AskFeedback {
		t.Fatalf("res = %+v, want zero result", res)
	}
	if store.Updates() != 0 {
		t.Fatalf("updates = %d, idle end must not write", store.Updates())
	}
	if len(rec.all()) != 0 {
		t.Fatal("idle end must not record history")
	}
}

func TestStartAndEndSessionRecordsDuration(t *testing.T) {
	clock := newTestClock()
	store := presence.NewMemoryStore()
	store.SetClock(clock.Now)
	rec := &stubRecorder{}
	c := openClient(t, store, rec, NewMemoryIdentity(), Config{Clock: clock.Now})
	joinAndConfirm(t, c, "Alice")

	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := waitState(t, c, "active session", func(st State) bool {
		return st.Current != nil && st.Current.Studying() && !st.Starting
	})
	if !st.Current.StartedAt.Equal(clock.Now()) {
		t.Fatalf("start time = %v, want server-assigned %v", st.Current.StartedAt, clock.Now())
	}

	// Starting again while active changes nothing.
	writes := store.Updates()
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if store.Updates() != writes {
		t.Fatal("starting an active session must not write")
	}

	clock.Advance(125 * time.Second)
	res, err := c.EndSession(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if res.Duration != 125*time.Second {
		t.Fatalf("duration = %v, want 125s", res.Duration)
	}
	if !res.AskFeedback {
		t.Error("a 125s session should prompt for feedback")
	}

	sessions := rec.all()
	if len(sessions) != 1 {
		t.Fatalf("recorded sessions = %d, want 1", len(sessions))
	}
	got := sessions[0]
	if got.end.Sub(got.start) != 125*time.Second {
		t.Fatalf("recorded duration = %v, want 125s", got.end.Sub(got.start))
	}
	if got.name != "Alice" || got.userID != c.UserID() {
		t.Fatalf("recorded identity = %s/%s, want Alice/%s", got.name, got.userID, c.UserID())
	}

	// Local state flips to idle immediately, before any echo.
	st = c.State()
	if st.Current == nil || st.Current.Status != models.StatusIdle || st.Current.StartedAt != nil {
		t.Fatalf("current after end = %+v, want idle with no start", st.Current)
	}
}

func TestShortSessionSkipsFeedbackPrompt(t *testing.T) {
	clock := newTestClock()
	store := presence.NewMemoryStore()
	store.SetClock(clock.Now)
	c := openClient(t, store, &stubRecorder{}, NewMemoryIdentity(), Config{Clock: clock.Now})
	joinAndConfirm(t, c, "Alice")

	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, c, "active session", func(st State) bool {
		return st.Current != nil && st.Current.Studying()
	})

	clock.Advance(3 * time.Second)
	res, err := c.EndSession(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if res.AskFeedback {
		t.Error("a 3s session should not prompt for feedback")
	}
}

func TestStartSessionFailureSurfaces(t *testing.T) {
	store := presence.NewMemoryStore()
	c := openClient(t, store, &stubRecorder{}, NewMemoryIdentity(), Config{})
	joinAndConfirm(t, c, "Alice")

	boom := errors.New("connection reset")
	store.FailUpdates(boom)

	err := c.StartSession(context.Background())
	var connErr *presence.ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectivityError", err)
	}

	st := c.State()
	if st.Starting {
		t.Error("starting flag must clear on failure")
	}
	if st.Current == nil || st.Current.Status != models.StatusIdle {
		t.Fatalf("current = %+v, failed start must leave the record idle", st.Current)
	}
	if st.Err == nil {
		t.Error("error should surface in state")
	}
}

func TestEvictionClearsSessionAndIdentity(t *testing.T) {
	store := presence.NewMemoryStore()
	ident := NewMemoryIdentity()
	// A short heartbeat keeps recovery deterministic: if the removal
	// lands while the join still awaits its echo, the beat's not-found
	// answer evicts well within the wait below.
	c := openClient(t, store, &stubRecorder{}, ident, Config{HeartbeatInterval: 15 * time.Millisecond})
	id := joinAndConfirm(t, c, "Alice")

	// External cleanup removes the record out from under the client.
	store.Remove(id)

	waitState(t, c, "implicit leave", func(st State) bool {
		return st.Current == nil
	})
	loaded, _ := ident.Load()
	if loaded.SessionID != "" {
		t.Fatalf("identity session = %q, eviction must clear it", loaded.SessionID)
	}
}

func TestLeaveRoom(t *testing.T) {
	store := presence.NewMemoryStore()
	ident := NewMemoryIdentity()
	c := openClient(t, store, &stubRecorder{}, ident, Config{})
	id := joinAndConfirm(t, c, "Alice")

	if err := c.LeaveRoom(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if st := c.State(); st.Current != nil {
		t.Fatalf("current = %+v after leave, want nil", st.Current)
	}
	if _, ok := store.Get(id); ok {
		t.Fatal("record should be deleted from the store")
	}
	loaded, _ := ident.Load()
	if loaded.SessionID != "" {
		t.Fatal("leave must clear the durable session identity")
	}

	if err := c.LeaveRoom(context.Background()); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("second leave: err = %v, want ErrNotJoined", err)
	}
}

func TestLeaveWhileStudyingEndsFirst(t *testing.T) {
	clock := newTestClock()
	store := presence.NewMemoryStore()
	store.SetClock(clock.Now)
	rec := &stubRecorder{}
	c := openClient(t, store, rec, NewMemoryIdentity(), Config{Clock: clock.Now})
	id := joinAndConfirm(t, c, "Alice")

	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, c, "active session", func(st State) bool {
		return st.Current != nil && st.Current.Studying()
	})
	clock.Advance(40 * time.Second)

	if err := c.LeaveRoom(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}

	sessions := rec.all()
	if len(sessions) != 1 {
		t.Fatalf("recorded sessions = %d, want the running one ended on leave", len(sessions))
	}
	if d := sessions[0].end.Sub(sessions[0].start); d != 40*time.Second {
		t.Fatalf("recorded duration = %v, want 40s", d)
	}
	if _, ok := store.Get(id); ok {
		t.Fatal("record should be deleted from the store")
	}
}

func TestLeaveDeleteFailureKeepsLocalClear(t *testing.T) {
	store := presence.NewMemoryStore()
	ident := NewMemoryIdentity()
	c := openClient(t, store, &stubRecorder{}, ident, Config{})
	id := joinAndConfirm(t, c, "Alice")

	boom := errors.New("connection refused")
	store.FailDeletes(boom)

	err := c.LeaveRoom(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	// The leave stands locally; the leftover record is the janitor's
	// problem.
	if st := c.State(); st.Current != nil {
		t.Fatalf("current = %+v, want nil after failed delete", st.Current)
	}
	loaded, _ := ident.Load()
	if loaded.SessionID != "" {
		t.Fatal("identity must stay cleared after failed delete")
	}
	if _, ok := store.Get(id); !ok {
		t.Fatal("record should still exist remotely")
	}
}

func TestRejoinSameIdentityAfterRestart(t *testing.T) {
	store := presence.NewMemoryStore()
	ident := NewMemoryIdentity()

	first := openClient(t, store, &stubRecorder{}, ident, Config{})
	id := joinAndConfirm(t, first, "Alice")
	userID := first.UserID()
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A fresh client over the same identity picks the session back up.
	second := openClient(t, store, &stubRecorder{}, ident, Config{})
	st := waitState(t, second, "rejoined session", func(st State) bool {
		return st.Current != nil && st.Current.ID == id
	})
	if st.Current.Name != "Alice" {
		t.Fatalf("rejoined as %q, want Alice", st.Current.Name)
	}
	if second.UserID() != userID {
		t.Fatal("user ID must be stable across restarts")
	}
}

func TestTwoClientsObserveEachOther(t *testing.T) {
	clock := newTestClock()
	store := presence.NewMemoryStore()
	store.SetClock(clock.Now)
	aliceRec := &stubRecorder{}

	alice := openClient(t, store, aliceRec, NewMemoryIdentity(), Config{Clock: clock.Now})
	bob := openClient(t, store, &stubRecorder{}, NewMemoryIdentity(), Config{Clock: clock.Now})

	joinAndConfirm(t, alice, "Alice")
	joinAndConfirm(t, bob, "Bob")

	findAlice := func(st State) (models.PresenceRecord, bool) {
		for _, r := range st.Roster {
			if r.Name == "Alice" {
				return r, true
			}
		}
		return models.PresenceRecord{}, false
	}

	waitState(t, bob, "both in roster", func(st State) bool {
		return st.TotalOnline == 2
	})

	if err := alice.StartSession(context.Background()); err != nil {
		t.Fatalf("alice start: %v", err)
	}
	waitState(t, bob, "alice active in bob's roster", func(st State) bool {
		r, ok := findAlice(st)
		return ok && r.Status == models.StatusActive && r.StartedAt != nil
	})

	clock.Advance(40 * time.Second)
	res, err := alice.EndSession(context.Background())
	if err != nil {
		t.Fatalf("alice end: %v", err)
	}
	if res.Duration != 40*time.Second {
		t.Fatalf("duration = %v, want 40s", res.Duration)
	}
	waitState(t, bob, "alice idle in bob's roster", func(st State) bool {
		r, ok := findAlice(st)
		return ok && r.Status == models.StatusIdle && r.StartedAt == nil
	})

	sessions := aliceRec.all()
	if len(sessions) != 1 || sessions[0].end.Sub(sessions[0].start) != 40*time.Second {
		t.Fatalf("alice's history = %+v, want one 40s session", sessions)
	}
}
