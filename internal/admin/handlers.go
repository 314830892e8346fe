// Package admin serves the read-only dashboard API: room snapshot,
// study-time analytics, and feedback, behind a single-password login.
// Nothing here sits on the presence write path; the dashboard observes
// the room, it never mutates it.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"focusroom/internal/middleware"
	"focusroom/internal/models"
	"focusroom/internal/presence"
)

// historyReader is the slice of the history repo the dashboard reads.
type historyReader interface {
	Stats(ctx context.Context) (*models.HistoryStats, error)
	Recent(ctx context.Context, limit int) ([]*models.CompletedSession, error)
	Leaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error)
}

type feedbackReader interface {
	Recent(ctx context.Context, limit int) ([]*models.Feedback, error)
	AverageRating(ctx context.Context) (float64, int, error)
}

type Handler struct {
	auth         *middleware.AdminAuth
	passwordHash []byte
	store        presence.Store
	history      historyReader
	feedback     feedbackReader
	roomName     string
}

func NewHandler(auth *middleware.AdminAuth, adminPassword string, store presence.Store, history historyReader, feedback feedbackReader, roomName string) *Handler {
	// Hashed once at construction; request handling only ever compares.
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), 12)
	if err != nil {
		log.Fatalf("hashing admin password: %v", err)
	}
	return &Handler{
		auth:         auth,
		passwordHash: hash,
		store:        store,
		history:      history,
		feedback:     feedback,
		roomName:     roomName,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.AdminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", "Wrong password", r))
		return
	}

	token, expiresIn, err := h.auth.GenerateToken()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}

	writeJSON(w, http.StatusOK, models.AdminToken{Token: token, ExpiresIn: expiresIn})
}

// Room returns the live room snapshot.
func (h *Handler) Room(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Read(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roomPayload(snap))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.history.Stats(ctx)
	if err != nil {
		log.Printf("admin: loading history stats: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}
	avgRating, ratingCount, err := h.feedback.AverageRating(ctx)
	if err != nil {
		log.Printf("admin: loading feedback stats: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}

	// The live store being down should not blank the whole stats page.
	onlineNow := 0
	if snap, err := h.store.Read(ctx); err == nil {
		onlineNow = snap.TotalOnline()
	} else {
		log.Printf("admin: reading room for stats: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_name":  h.roomName,
		"online_now": onlineNow,
		"history":    stats,
		"feedback": map[string]interface{}{
			"average_rating": avgRating,
			"count":          ratingCount,
		},
	})
}

func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.history.Recent(r.Context(), parseLimit(r, 50, 200))
	if err != nil {
		log.Printf("admin: listing sessions: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.Leaderboard(r.Context(), parseLimit(r, 10, 100))
	if err != nil {
		log.Printf("admin: loading leaderboard: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feedback.Recent(r.Context(), parseLimit(r, 50, 200))
	if err != nil {
		log.Printf("admin: listing feedback: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feedback": entries})
}

// roomPayload normalizes records for display: a record violating the
// status/start-time invariant renders as idle rather than breaking the
// dashboard timer.
func roomPayload(snap presence.Snapshot) models.RoomSnapshotEvent {
	records := make([]models.PresenceRecord, len(snap.Records))
	copy(records, snap.Records)
	for i := range records {
		records[i].Status = records[i].DisplayStatus()
		if records[i].Status == models.StatusIdle {
			records[i].StartedAt = nil
		}
	}
	return models.RoomSnapshotEvent{Records: records, TotalOnline: len(records)}
}

func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var connErr *presence.ConnectivityError
	if errors.As(err, &connErr) {
		writeJSON(w, http.StatusServiceUnavailable, errorResp("CONNECTIVITY_ERROR", "Presence store unavailable", r))
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
}
