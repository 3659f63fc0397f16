package feedback

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roompulse/backend/internal/models"
)

// Repository handles the append-only feedback log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a feedback repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends an entry and fills in its server-assigned ID and timestamp.
// IDs are monotonic, so (submitted_at, id) gives a stable per-room order.
func (r *Repository) Insert(ctx context.Context, e *models.FeedbackEntry) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO feedback_entries (room_code, username, rating, comment, emotion)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, submitted_at`,
		e.RoomCode, e.Username, e.Rating, e.Comment, e.Emotion).
		Scan(&e.ID, &e.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// ListByRoom returns a room's entries in canonical order. A room with no
// feedback yields an empty slice, not an error.
func (r *Repository) ListByRoom(ctx context.Context, roomCode string) ([]models.FeedbackEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_code, username, rating, comment, emotion, submitted_at
		 FROM feedback_entries
		 WHERE room_code = $1
		 ORDER BY submitted_at, id`,
		roomCode)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	entries := make([]models.FeedbackEntry, 0)
	for rows.Next() {
		var e models.FeedbackEntry
		if err := rows.Scan(&e.ID, &e.RoomCode, &e.Username, &e.Rating, &e.Comment, &e.Emotion, &e.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
