package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"focusroom/internal/middleware"
)

// NewRouter wires the dashboard API.
func NewRouter(auth *middleware.AdminAuth, handler *Handler, hub *Hub, frontendURL string) http.Handler {
	r := chi.NewRouter()

	// ──────────────── Global middleware ────────────────
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Login is the only unauthenticated mutation target, so it gets a
	// per-IP rate limit against password guessing.
	loginLimiter := middleware.NewRateLimiter(10, time.Minute)

	// ──────────────── Health check ────────────────
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// ──────────────── Admin API ────────────────
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(loginLimiter.Middleware)
			r.Post("/login", handler.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Get("/room", handler.Room)
			r.Get("/stats", handler.Stats)
			r.Get("/sessions", handler.Sessions)
			r.Get("/leaderboard", handler.Leaderboard)
			r.Get("/feedback", handler.Feedback)
		})

		// Token check happens inside the handler (query param).
		r.Get("/ws", hub.HandleWebSocket)
	})

	return r
}
