package room

import (
	"context"
	"errors"
	"log"
	"time"

	"focusroom/internal/presence"
)

// DefaultHeartbeatInterval balances remote-write cost against the
// janitor's eviction window: long enough to keep writes cheap, short
// enough to beat the window with margin.
const DefaultHeartbeatInterval = 2 * time.Minute

// SetVisible tells the client whether the user can currently see the
// room. Heartbeats pause while hidden; regaining visibility fires one
// immediately so a long-backgrounded client is not evicted right after
// coming back.
func (c *Client) SetVisible(visible bool) {
	c.mu.Lock()
	was := c.visible
	c.visible = visible
	c.mu.Unlock()
	if visible && !was {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.wake:
			ticker.Reset(c.interval)
		}
		c.beat(ctx)
	}
}

// beat refreshes lastSeen on the live record. Hidden or not joined
// means no write at all. A not-found answer is authoritative and
// clears the local session; other failures are background noise,
// logged and never surfaced.
func (c *Client) beat(ctx context.Context) {
	c.mu.Lock()
	if !c.visible || c.current == nil || c.current.ID == "" {
		c.mu.Unlock()
		return
	}
	id := c.current.ID
	c.mu.Unlock()

	err := c.store.Update(ctx, id, presence.Patch{LastSeen: presence.ServerNow()})
	if err == nil || ctx.Err() != nil {
		return
	}
	if errors.Is(err, presence.ErrNotFound) {
		// Snapshots missing the record cannot clear a join still
		// awaiting its echo, so the eviction lands here.
		c.mu.Lock()
		if c.current != nil && c.current.ID == id {
			log.Printf("room: session %s no longer present, treating as left", id)
			c.evictLocked()
			c.notifyLocked()
		}
		c.mu.Unlock()
		return
	}
	log.Printf("room: heartbeat failed: %v", err)
}
