// janitor.go implements the "focusroom janitor" command for running
// room eviction outside the admin process.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"focusroom/internal/config"
	"focusroom/internal/database"
	"focusroom/internal/janitor"
	"focusroom/internal/presence"
)

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Evict silent members from the room",
	Long: `Sweep the room for members whose heartbeats stopped and remove their
presence records. The admin command runs this loop already; the
standalone command exists for deployments without a dashboard and for
one-off manual sweeps.`,
	RunE: runJanitor,
}

var (
	janitorOnce   bool
	janitorDryRun bool
)

func init() {
	janitorCmd.Flags().BoolVar(&janitorOnce, "once", false, "Run a single sweep and exit")
	janitorCmd.Flags().BoolVar(&janitorDryRun, "dry-run", false, "Report stale members without evicting them")
}

func runJanitor(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	redisClient, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to Redis: %w", err)
	}
	defer redisClient.Close()

	store := presence.NewRedisStore(redisClient)
	jan := janitor.New(store, janitor.Options{
		Window:   cfg.EvictionWindow,
		Interval: cfg.JanitorInterval,
		DryRun:   janitorDryRun,
	})

	if janitorOnce {
		evicted, err := jan.RunOnce(context.Background())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		if janitorDryRun {
			fmt.Printf("%d stale member(s) would be evicted\n", len(evicted))
		} else {
			fmt.Printf("evicted %d stale member(s)\n", len(evicted))
		}
		return nil
	}

	jan.Start()
	defer jan.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down...")
	return nil
}
