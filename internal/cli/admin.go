// admin.go implements the "focusroom admin" command which serves the
// dashboard API and runs the room janitor.
package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"focusroom/internal/admin"
	"focusroom/internal/config"
	"focusroom/internal/database"
	"focusroom/internal/feedback"
	"focusroom/internal/history"
	"focusroom/internal/janitor"
	"focusroom/internal/middleware"
	"focusroom/internal/presence"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Serve the admin dashboard API",
	Long: `Run the dashboard backend: REST endpoints for stats, sessions,
leaderboard and feedback, a live room view over WebSocket, and the
janitor that evicts silent members.`,
	RunE: runAdmin,
}

func runAdmin(cmd *cobra.Command, args []string) error {
	log.Println("🚀 Starting Focusroom admin...")

	// ──── Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("PostgreSQL connection failed: %w", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Redis Client ────
	redisClient, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ──── Database Migrations ────
	if err := database.RunMigrations(pool); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Repositories and Store ────
	historyRepo := history.NewRepo(pool)
	feedbackRepo := feedback.NewRepo(pool)
	store := presence.NewRedisStore(redisClient)

	// ──── Janitor ────
	jan := janitor.New(store, janitor.Options{
		Window:   cfg.EvictionWindow,
		Interval: cfg.JanitorInterval,
	})
	jan.Start()

	// ──── WebSocket Hub ────
	auth := middleware.NewAdminAuth(cfg.JWTSecret)
	hub := admin.NewHub(auth, store)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)
	log.Println("✓ WebSocket hub started")

	// ──── HTTP Server ────
	handler := admin.NewHandler(auth, cfg.AdminPassword, store, historyRepo, feedbackRepo, cfg.RoomName)
	r := admin.NewRouter(auth, handler, hub, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		jan.Stop()
		hubCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Focusroom admin ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1/admin", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/admin/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
