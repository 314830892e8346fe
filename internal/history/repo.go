package history

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"focusroom/internal/models"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Append inserts one completed session. The duration is clamped
// server-side to [0, 12h] so a skewed client clock cannot poison the
// aggregates.
func (r *Repo) Append(ctx context.Context, s *models.CompletedSession) error {
	s.ID = uuid.New()

	query := `
		INSERT INTO completed_sessions (id, user_id, user_name, duration_seconds, started_at, ended_at)
		VALUES ($1, $2, $3, GREATEST(0, LEAST(43200, $4::INT)), $5, $6)
		RETURNING duration_seconds, completed_at
	`

	return r.pool.QueryRow(ctx, query,
		s.ID, s.UserID, s.UserName, s.DurationSeconds, s.StartedAt, s.EndedAt,
	).Scan(&s.DurationSeconds, &s.CompletedAt)
}

func (r *Repo) Recent(ctx context.Context, limit int) ([]*models.CompletedSession, error) {
	query := `
		SELECT id, user_id, user_name, duration_seconds, started_at, ended_at, completed_at
		FROM completed_sessions
		ORDER BY completed_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.CompletedSession
	for rows.Next() {
		s := &models.CompletedSession{}
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.UserName, &s.DurationSeconds, &s.StartedAt, &s.EndedAt, &s.CompletedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *Repo) Stats(ctx context.Context) (*models.HistoryStats, error) {
	st := &models.HistoryStats{}

	query := `
		SELECT COUNT(*),
			COALESCE(SUM(duration_seconds), 0),
			COUNT(DISTINCT user_id),
			COALESCE(AVG(duration_seconds), 0),
			COUNT(*) FILTER (WHERE completed_at > NOW() - INTERVAL '7 days')
		FROM completed_sessions
	`

	err := r.pool.QueryRow(ctx, query).Scan(
		&st.TotalSessions, &st.TotalSeconds, &st.DistinctUsers, &st.AverageSeconds, &st.SessionsLast7Days,
	)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (r *Repo) Leaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error) {
	// The display name travels with every row; the most recent one
	// wins for users who renamed between sessions.
	query := `
		SELECT user_id,
			(ARRAY_AGG(user_name ORDER BY completed_at DESC))[1],
			COALESCE(SUM(duration_seconds), 0),
			COUNT(*)
		FROM completed_sessions
		GROUP BY user_id
		ORDER BY SUM(duration_seconds) DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.LeaderboardEntry
	for rows.Next() {
		e := &models.LeaderboardEntry{}
		if err := rows.Scan(&e.UserID, &e.UserName, &e.TotalSeconds, &e.Sessions); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
