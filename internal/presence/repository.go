package presence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roompulse/backend/internal/models"
)

// Repository records presence sessions as an audit trail. The live count is
// owned by the Tracker; these rows are the durable join/leave history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a presence session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a connection enters a room.
func (r *Repository) LogJoin(ctx context.Context, roomCode, connectionID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO presence_sessions (room_code, connection_id, joined_at) VALUES ($1, $2, NOW())`,
		roomCode, connectionID)
	return err
}

// LogLeave closes the most recent open session for this connection in this
// room. A leave with no open session is a no-op.
func (r *Repository) LogLeave(ctx context.Context, roomCode, connectionID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE presence_sessions p SET left_at = NOW()
		 FROM (SELECT id FROM presence_sessions
		       WHERE room_code = $1 AND connection_id = $2 AND left_at IS NULL
		       ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE p.id = sub.id`,
		roomCode, connectionID)
	return err
}

// ListOpenByRoom returns the open sessions for a room, oldest first.
func (r *Repository) ListOpenByRoom(ctx context.Context, roomCode string) ([]models.PresenceSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT room_code, connection_id, joined_at
		 FROM presence_sessions
		 WHERE room_code = $1 AND left_at IS NULL
		 ORDER BY joined_at`,
		roomCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.PresenceSession
	for rows.Next() {
		var s models.PresenceSession
		if err := rows.Scan(&s.RoomCode, &s.ConnectionID, &s.JoinedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
