// Package feedback stores post-session feedback entries. Append-only
// by policy: Submit is the only write, there is no update or delete.
package feedback

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"focusroom/internal/models"
)

const maxCommentLength = 500

var (
	ErrInvalidRating  = errors.New("feedback: rating must be between 1 and 5")
	ErrCommentTooLong = errors.New("feedback: comment must be at most 500 characters")
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// validate normalizes the entry and rejects out-of-range input before
// anything touches the database.
func validate(f *models.Feedback) error {
	if f.Rating < 1 || f.Rating > 5 {
		return ErrInvalidRating
	}
	f.Comment = strings.TrimSpace(f.Comment)
	if utf8.RuneCountInString(f.Comment) > maxCommentLength {
		return ErrCommentTooLong
	}
	return nil
}

// Submit validates and appends one feedback entry.
func (r *Repo) Submit(ctx context.Context, f *models.Feedback) error {
	if err := validate(f); err != nil {
		return err
	}
	f.ID = uuid.New()

	query := `
		INSERT INTO feedback (id, user_id, user_name, rating, comment, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	return r.pool.QueryRow(ctx, query,
		f.ID, f.UserID, f.UserName, f.Rating, f.Comment, f.DurationSeconds,
	).Scan(&f.CreatedAt)
}

func (r *Repo) Recent(ctx context.Context, limit int) ([]*models.Feedback, error) {
	query := `
		SELECT id, user_id, user_name, rating, comment, duration_seconds, created_at
		FROM feedback
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.Feedback
	for rows.Next() {
		f := &models.Feedback{}
		if err := rows.Scan(
			&f.ID, &f.UserID, &f.UserName, &f.Rating, &f.Comment, &f.DurationSeconds, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, f)
	}
	return entries, rows.Err()
}

// AverageRating returns the mean rating and the number of entries it
// covers.
func (r *Repo) AverageRating(ctx context.Context) (float64, int, error) {
	query := `SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM feedback`

	var avg float64
	var count int
	if err := r.pool.QueryRow(ctx, query).Scan(&avg, &count); err != nil {
		return 0, 0, err
	}
	return avg, count, nil
}
