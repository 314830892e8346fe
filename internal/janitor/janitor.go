// Package janitor evicts stale presence records: sessions whose owner
// stopped heartbeating (crashed process, dropped network) without an
// explicit leave. Clients treat an evicted record as an implicit
// leave, so the janitor is the garbage collector of room presence.
package janitor

import (
	"context"
	"log"
	"time"

	"focusroom/internal/presence"
)

const (
	// DefaultEvictionWindow is how long a record may go silent before
	// it counts as abandoned. Several heartbeat intervals, so a single
	// missed beat never evicts anyone.
	DefaultEvictionWindow = 10 * time.Minute

	// DefaultSweepInterval is how often the janitor scans the room.
	DefaultSweepInterval = time.Minute
)

type Options struct {
	// Window overrides DefaultEvictionWindow.
	Window time.Duration

	// Interval overrides DefaultSweepInterval.
	Interval time.Duration

	// DryRun logs what would be evicted without deleting anything.
	DryRun bool
}

type Janitor struct {
	store    presence.Store
	window   time.Duration
	interval time.Duration
	dryRun   bool
	stopChan chan struct{}
}

func New(store presence.Store, opts Options) *Janitor {
	if opts.Window <= 0 {
		opts.Window = DefaultEvictionWindow
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	return &Janitor{
		store:    store,
		window:   opts.Window,
		interval: opts.Interval,
		dryRun:   opts.DryRun,
		stopChan: make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	go j.loop()
	log.Printf("Janitor started (window %s, sweep every %s)", j.window, j.interval)
}

func (j *Janitor) Stop() {
	select {
	case <-j.stopChan:
		return
	default:
		close(j.stopChan)
	}
}

func (j *Janitor) loop() {
	// Sweep on startup as well as by interval.
	if _, err := j.RunOnce(context.Background()); err != nil {
		log.Printf("janitor: sweep failed: %v", err)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			if _, err := j.RunOnce(context.Background()); err != nil {
				log.Printf("janitor: sweep failed: %v", err)
			}
		}
	}
}

// RunOnce scans the room and deletes every record silent for longer
// than the eviction window, judged against the store's clock so
// machine skew cannot evict prematurely. It returns the IDs it evicted
// (or would evict, in dry-run mode).
func (j *Janitor) RunOnce(ctx context.Context) ([]string, error) {
	now, err := j.store.ServerTime(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := j.store.Read(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-j.window)
	var evicted []string
	for _, rec := range snap.Records {
		if !rec.LastSeen.Before(cutoff) {
			continue
		}
		silent := now.Sub(rec.LastSeen).Round(time.Second)
		if j.dryRun {
			log.Printf("janitor: would evict %s (%s, silent for %s)", rec.ID, rec.Name, silent)
			evicted = append(evicted, rec.ID)
			continue
		}
		if err := j.store.Delete(ctx, rec.ID); err != nil {
			log.Printf("janitor: evicting %s failed: %v", rec.ID, err)
			continue
		}
		log.Printf("janitor: evicted %s (%s, silent for %s)", rec.ID, rec.Name, silent)
		evicted = append(evicted, rec.ID)
	}
	return evicted, nil
}
