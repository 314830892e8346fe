package room

import (
	"context"
	"testing"
	"time"

	"focusroom/internal/presence"
)

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	store := presence.NewMemoryStore()
	c := openClient(t, store, &stubRecorder{}, NewMemoryIdentity(), Config{HeartbeatInterval: 15 * time.Millisecond})
	id := joinAndConfirm(t, c, "Alice")

	before, _ := store.Get(id)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		after, ok := store.Get(id)
		if ok && after.LastSeen.After(before.LastSeen) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("heartbeat never refreshed lastSeen")
}

func TestHeartbeatSuppressedWhileHidden(t *testing.T) {
	store := presence.NewMemoryStore()
	c := openClient(t, store, &stubRecorder{}, NewMemoryIdentity(), Config{HeartbeatInterval: 10 * time.Millisecond})
	joinAndConfirm(t, c, "Alice")

	c.SetVisible(false)
	baseline := store.Updates()

	// Many intervals pass while hidden; none of them may write.
	time.Sleep(150 * time.Millisecond)
	if got := store.Updates(); got != baseline {
		t.Fatalf("updates while hidden = %d, want %d", got, baseline)
	}

	// Regaining visibility fires one immediately, well before the next
	// scheduled tick.
	c.SetVisible(true)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if store.Updates() > baseline {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no heartbeat after visibility restored")
}

func TestHeartbeatSkipsWhenNotJoined(t *testing.T) {
	store := presence.NewMemoryStore()
	openClient(t, store, &stubRecorder{}, NewMemoryIdentity(), Config{HeartbeatInterval: 10 * time.Millisecond})

	time.Sleep(100 * time.Millisecond)
	if got := store.Updates(); got != 0 {
		t.Fatalf("updates = %d, want 0 before joining", got)
	}
}

// silentWatchStore reads and writes like its inner store but strips
// every record from watch snapshots, so a join never sees its echo.
type silentWatchStore struct {
	*presence.MemoryStore
}

func (s *silentWatchStore) Watch(ctx context.Context) (<-chan presence.Snapshot, error) {
	inner, err := s.MemoryStore.Watch(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan presence.Snapshot, 1)
	go func() {
		defer close(out)
		for range inner {
			out <- presence.Snapshot{}
		}
	}()
	return out, nil
}

func TestHeartbeatEvictsRecordDeletedBeforeEcho(t *testing.T) {
	inner := presence.NewMemoryStore()
	store := &silentWatchStore{MemoryStore: inner}
	ident := NewMemoryIdentity()
	c := NewClient(store, &stubRecorder{}, ident, Config{HeartbeatInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := c.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.Join(ctx, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	st := c.State()
	if st.Current == nil || st.Current.ID == "" {
		t.Fatalf("current = %+v, want confirmed record", st.Current)
	}
	id := st.Current.ID

	// The record vanishes before its first echo arrives. Snapshots
	// missing it must leave the confirmed join untouched.
	inner.Remove(id)
	c.reconcile(presence.Snapshot{})
	if st := c.State(); st.Current == nil {
		t.Fatal("missing echo must not clear a confirmed join")
	}

	// The next heartbeat gets the authoritative answer and evicts.
	c.beat(ctx)

	st = c.State()
	if st.Current != nil {
		t.Fatalf("current = %+v, want nil after heartbeat found the record gone", st.Current)
	}
	loaded, _ := ident.Load()
	if loaded.SessionID != "" {
		t.Fatalf("identity session = %q, want cleared", loaded.SessionID)
	}

	// The suppression window died with the record; joining again works.
	if err := c.Join(ctx, "Alice"); err != nil {
		t.Fatalf("rejoin after eviction: %v", err)
	}
}

func TestCloseStopsHeartbeat(t *testing.T) {
	store := presence.NewMemoryStore()
	rec := &stubRecorder{}
	c := NewClient(store, rec, NewMemoryIdentity(), Config{HeartbeatInterval: 10 * time.Millisecond})
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Join(ctx, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	settled := store.Updates()
	time.Sleep(100 * time.Millisecond)
	if got := store.Updates(); got != settled {
		t.Fatalf("updates after close = %d, want %d", got, settled)
	}

	if err := c.Join(ctx, "Alice"); err != ErrClosed {
		t.Fatalf("join after close: err = %v, want ErrClosed", err)
	}
}
