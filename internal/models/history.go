package models

import (
	"time"

	"github.com/google/uuid"
)

// CompletedSession is one finished study interval, appended to durable
// history when a session ends. Rows are never mutated or deleted by
// clients, so study-time analytics survive presence churn and janitor
// cleanup.
type CompletedSession struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	UserName        string    `json:"user_name"`
	DurationSeconds int       `json:"duration_seconds"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// HistoryStats are the room-wide aggregates served by the dashboard.
type HistoryStats struct {
	TotalSessions     int     `json:"total_sessions"`
	TotalSeconds      int64   `json:"total_seconds"`
	DistinctUsers     int     `json:"distinct_users"`
	AverageSeconds    float64 `json:"average_seconds"`
	SessionsLast7Days int     `json:"sessions_last_7_days"`
}

// LeaderboardEntry is one user's accumulated study time.
type LeaderboardEntry struct {
	UserID       uuid.UUID `json:"user_id"`
	UserName     string    `json:"user_name"`
	TotalSeconds int64     `json:"total_seconds"`
	Sessions     int       `json:"sessions"`
}
