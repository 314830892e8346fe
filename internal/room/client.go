// Package room implements the session reconciliation engine: the
// client-side state machine that keeps one participant's view of the
// shared study room consistent with the live presence store. Each
// lifecycle operation pairs an optimistic local change with a remote
// write, and snapshot reconciliation suppresses the echoes of the
// client's own in-flight writes so they never clobber fresher local
// state.
package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"focusroom/internal/models"
	"focusroom/internal/presence"
)

const (
	// maxNameLength bounds display names at join time.
	maxNameLength = 50

	// minFeedbackDuration is the shortest session worth prompting
	// feedback for.
	minFeedbackDuration = 30 * time.Second
)

// SessionRecorder durably appends one record per finished study
// interval. Implementations swallow their own failures: losing an
// analytics record must never break the end-session flow.
type SessionRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, userName string, start, end time.Time)
}

// State is the reconciled room view handed to the UI layer. Roster is
// ordered most recently seen first, as the store delivers it.
type State struct {
	Current     *models.PresenceRecord
	Roster      []models.PresenceRecord
	TotalOnline int
	Loading     bool
	Err         error
	Joining     bool
	Leaving     bool
	Starting    bool
}

// EndResult reports a finished study session.
type EndResult struct {
	Duration    time.Duration
	AskFeedback bool
}

// Config tunes a Client. Zero values get working defaults.
type Config struct {
	// HeartbeatInterval is the liveness refresh period. Defaults to
	// DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// Clock supplies local time, replaceable in tests.
	Clock func() time.Time

	// OnChange, when set, receives the state after every change on a
	// dedicated goroutine. Deliveries coalesce: a slow consumer only
	// ever sees the newest state.
	OnChange func(State)
}

// Client owns one participant's presence record and the local cache of
// the whole room. Lifecycle operations are expected one at a time, as
// a single user drives them; the client is still safe for concurrent
// use.
type Client struct {
	store    presence.Store
	recorder SessionRecorder
	identity IdentityStore

	interval time.Duration
	clock    func() time.Time
	onChange func(State)

	mu       sync.Mutex
	ident    Identity
	current  *models.PresenceRecord
	roster   []models.PresenceRecord
	loading  bool
	lastErr  error
	starting bool
	visible  bool
	op       pendingOp
	opened   bool
	closed   bool

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	wake       chan struct{}
	notifyCh   chan State
	notifyDone chan struct{}
}

func NewClient(store presence.Store, recorder SessionRecorder, identity IdentityStore, cfg Config) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Client{
		store:      store,
		recorder:   recorder,
		identity:   identity,
		interval:   cfg.HeartbeatInterval,
		clock:      cfg.Clock,
		onChange:   cfg.OnChange,
		visible:    true,
		wake:       make(chan struct{}, 1),
		notifyCh:   make(chan State, 1),
		notifyDone: make(chan struct{}),
	}
}

// Open loads the durable identity, starts the live subscription and
// the heartbeat, and must be called once before any lifecycle
// operation. The subscription and heartbeat run until ctx is cancelled
// or Close is called.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.opened {
		c.mu.Unlock()
		return errors.New("room: client already open")
	}
	ident, err := c.identity.Load()
	if err != nil {
		log.Printf("room: loading identity failed, starting fresh: %v", err)
		ident = Identity{}
	}
	if ident.UserID == uuid.Nil {
		ident.UserID = uuid.New()
		if err := c.identity.Save(ident); err != nil {
			log.Printf("room: persisting identity failed: %v", err)
		}
	}
	c.ident = ident
	c.loading = true
	c.mu.Unlock()

	wctx, cancel := context.WithCancel(ctx)
	snaps, err := c.store.Watch(wctx)
	if err != nil {
		cancel()
		c.mu.Lock()
		c.loading = false
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.opened = true
	c.cancel = cancel
	c.wg.Add(2)
	go c.watchLoop(snaps)
	go c.heartbeatLoop(wctx)
	if c.onChange != nil {
		go c.notifyLoop()
	} else {
		close(c.notifyDone)
	}
	c.notifyLocked()
	c.mu.Unlock()
	return nil
}

// Close tears down the subscription, the heartbeat, and the change
// stream. It never touches the remote record; callers wanting an
// explicit exit call LeaveRoom first. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.opened || c.closed {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	close(c.notifyCh)
	<-c.notifyDone
	return nil
}

// State returns a copy of the current reconciled view.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// UserID returns the stable per-machine user identifier. Only valid
// after Open.
func (c *Client) UserID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ident.UserID
}

// Join creates this client's presence record and enters the room idle.
// The new record's ID is persisted so a restart rejoins the same
// identity.
func (c *Client) Join(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Fields: map[string]string{"name": "display name is required"}}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return &ValidationError{Fields: map[string]string{
			"name": fmt.Sprintf("display name must be at most %d characters", maxNameLength),
		}}
	}

	c.mu.Lock()
	if !c.opened || c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.current != nil || c.op.live(opJoin) {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.op.begin(opJoin)
	optimistic := models.PresenceRecord{Name: name, Status: models.StatusIdle, LastSeen: c.clock()}
	c.current = &optimistic
	c.lastErr = nil
	c.notifyLocked()
	c.mu.Unlock()

	// LastSeen stays zero here so the store stamps its own clock.
	id, err := c.store.Create(ctx, models.PresenceRecord{Name: name, Status: models.StatusIdle})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.op.rollback()
		c.op.reset()
		c.current = nil
		c.lastErr = err
		c.notifyLocked()
		return err
	}
	c.op.confirm()
	if c.current != nil {
		c.current.ID = id
	}
	c.ident.SessionID = id
	if saveErr := c.identity.Save(c.ident); saveErr != nil {
		log.Printf("room: persisting identity failed: %v", saveErr)
	}
	c.notifyLocked()
	return nil
}

// StartSession flips this client's record to active with a
// server-assigned start time. The local record stays idle until the
// authoritative state comes back through the subscription; State
// reports Starting until then. Starting an already running session is
// a no-op.
func (c *Client) StartSession(ctx context.Context) error {
	c.mu.Lock()
	if !c.opened || c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.current == nil || c.current.ID == "" {
		c.mu.Unlock()
		return ErrNotJoined
	}
	if c.starting || c.current.Studying() {
		c.mu.Unlock()
		return nil
	}
	id := c.current.ID
	c.starting = true
	c.lastErr = nil
	c.notifyLocked()
	c.mu.Unlock()

	// One combined write; the store resolves both timestamps so the
	// start time is authoritative, not this machine's clock.
	err := c.store.Update(ctx, id, presence.Patch{
		Status:    models.StatusActive,
		StartedAt: presence.ServerNow(),
		LastSeen:  presence.ServerNow(),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.starting = false
		if errors.Is(err, presence.ErrNotFound) {
			c.evictLocked()
			c.notifyLocked()
			return ErrNotJoined
		}
		c.lastErr = err
		c.notifyLocked()
		return err
	}
	return nil
}

// EndSession stops the running study session, records the interval to
// history, and flips the record back to idle. Ending when no session
// is running is a no-op with no remote write.
func (c *Client) EndSession(ctx context.Context) (EndResult, error) {
	c.mu.Lock()
	if !c.opened || c.closed {
		c.mu.Unlock()
		return EndResult{}, ErrClosed
	}
	if c.current == nil || !c.current.Studying() {
		c.mu.Unlock()
		return EndResult{}, nil
	}
	id := c.current.ID
	name := c.current.Name
	userID := c.ident.UserID
	start := *c.current.StartedAt
	end := c.clock()
	c.mu.Unlock()

	duration := end.Sub(start)

	// History is written before the presence flip so the interval
	// survives even if the room update fails.
	c.recorder.Record(ctx, userID, name, start, end)

	err := c.store.Update(ctx, id, presence.Patch{
		Status:    models.StatusIdle,
		StartedAt: presence.ClearTime(),
		LastSeen:  presence.ServerNow(),
	})

	res := EndResult{Duration: duration, AskFeedback: duration >= minFeedbackDuration}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if errors.Is(err, presence.ErrNotFound) {
			// The record vanished under us; the session still ended.
			c.evictLocked()
			c.notifyLocked()
			return res, nil
		}
		c.lastErr = err
		c.notifyLocked()
		return EndResult{}, err
	}
	if c.current != nil && c.current.ID == id {
		c.current.Status = models.StatusIdle
		c.current.StartedAt = nil
	}
	c.starting = false
	c.lastErr = nil
	c.notifyLocked()
	return res, nil
}

// LeaveRoom removes this client's presence record and clears the
// durable identity. A still-running session is ended first so its
// interval reaches history. The local state clears before the remote
// delete: if the delete fails, the leave stands locally and the
// janitor reaps the leftover record once heartbeats stop.
func (c *Client) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	if !c.opened || c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.current == nil || c.current.ID == "" {
		c.mu.Unlock()
		return ErrNotJoined
	}
	studying := c.current.Studying()
	c.mu.Unlock()

	if studying {
		if _, err := c.EndSession(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.current == nil {
		// Evicted while ending; nothing left to remove.
		c.mu.Unlock()
		return nil
	}
	id := c.current.ID
	c.op.begin(opLeave)
	c.current = nil
	c.starting = false
	c.ident.SessionID = ""
	if err := c.identity.Save(c.ident); err != nil {
		log.Printf("room: clearing identity failed: %v", err)
	}
	c.notifyLocked()
	c.mu.Unlock()

	err := c.store.Delete(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.op.rollback()
		c.op.reset()
		c.lastErr = err
		c.notifyLocked()
		return err
	}
	c.op.confirm()
	c.op.reset()
	c.lastErr = nil
	c.notifyLocked()
	return nil
}

func (c *Client) watchLoop(snaps <-chan presence.Snapshot) {
	defer c.wg.Done()
	for snap := range snaps {
		c.reconcile(snap)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.lastErr = &presence.ConnectivityError{Op: "watch", Err: errors.New("live subscription ended")}
		c.notifyLocked()
	}
}

// reconcile folds one authoritative snapshot into the local cache. The
// roster is always replaced; the client's own record is only replaced
// when no join or leave is mid-flight, and only when it differs in
// something other than lastSeen.
func (c *Client) reconcile(snap presence.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	c.roster = snap.Records

	if c.op.suppresses() {
		if c.op.awaitingEcho() && c.ident.SessionID != "" {
			if rec, ok := snap.Find(c.ident.SessionID); ok {
				c.op.reset()
				c.adoptLocked(rec)
			}
		}
		c.notifyLocked()
		return
	}

	if c.ident.SessionID == "" {
		c.notifyLocked()
		return
	}
	rec, ok := snap.Find(c.ident.SessionID)
	if !ok {
		// Evicted by the janitor or deleted elsewhere: implicit leave.
		log.Printf("room: session %s no longer present, treating as left", c.ident.SessionID)
		c.evictLocked()
		c.notifyLocked()
		return
	}
	c.adoptLocked(rec)
	c.notifyLocked()
}

// adoptLocked replaces the cached own record with the authoritative
// one, skipping replacements where only lastSeen moved.
func (c *Client) adoptLocked(rec models.PresenceRecord) {
	if c.starting && rec.Studying() {
		c.starting = false
	}
	if c.current != nil && sameRecord(*c.current, rec) {
		return
	}
	own := rec
	c.current = &own
}

// evictLocked clears the live session after the record disappeared
// remotely. Any open suppression window dies with it: no echo can
// arrive for a deleted record.
func (c *Client) evictLocked() {
	c.op.reset()
	c.current = nil
	c.starting = false
	if c.ident.SessionID != "" {
		c.ident.SessionID = ""
		if err := c.identity.Save(c.ident); err != nil {
			log.Printf("room: clearing identity failed: %v", err)
		}
	}
}

// sameRecord compares the fields that matter for display: ID, status,
// name, and the start instant. lastSeen is deliberately excluded so
// heartbeat ticks do not churn the cached record.
func sameRecord(a, b models.PresenceRecord) bool {
	if a.ID != b.ID || a.Status != b.Status || a.Name != b.Name {
		return false
	}
	if a.StartedAt == nil || b.StartedAt == nil {
		return a.StartedAt == b.StartedAt
	}
	return a.StartedAt.Equal(*b.StartedAt)
}

func (c *Client) stateLocked() State {
	st := State{
		Roster:      append([]models.PresenceRecord(nil), c.roster...),
		TotalOnline: len(c.roster),
		Loading:     c.loading,
		Err:         c.lastErr,
		Joining:     c.op.joining(),
		Leaving:     c.op.leaving(),
		Starting:    c.starting,
	}
	if c.current != nil {
		own := *c.current
		st.Current = &own
	}
	return st
}

// notifyLocked queues the current state for delivery, dropping any
// stale undelivered one.
func (c *Client) notifyLocked() {
	if c.closed || c.onChange == nil {
		return
	}
	st := c.stateLocked()
	for {
		select {
		case c.notifyCh <- st:
			return
		default:
			select {
			case <-c.notifyCh:
			default:
			}
		}
	}
}

func (c *Client) notifyLoop() {
	defer close(c.notifyDone)
	for st := range c.notifyCh {
		c.onChange(st)
	}
}
