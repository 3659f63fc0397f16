package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roompulse/backend/internal/models"
)

// ErrNotFound is returned when no room exists for a code.
var ErrNotFound = errors.New("room not found")

// maxCodeAttempts bounds collision retries on room creation. With 36^6
// codes, hitting this means something is badly wrong with the generator.
const maxCodeAttempts = 10

// Repository handles room persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new room with a fresh code and creator token, retrying
// code collisions against live rooms.
func (r *Repository) Create(ctx context.Context) (*models.Room, error) {
	token, err := NewCreatorToken()
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		room := &models.Room{Code: code, CreatorToken: token}
		err = r.pool.QueryRow(ctx,
			`INSERT INTO rooms (code, creator_token) VALUES ($1, $2) RETURNING created_at`,
			code, token).Scan(&room.CreatedAt)
		if err == nil {
			return room, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			continue // code collision, draw again
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return nil, fmt.Errorf("insert room: exhausted %d code attempts", maxCodeAttempts)
}

// GetByCode returns the room for a code, or ErrNotFound.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	err := r.pool.QueryRow(ctx,
		`SELECT code, creator_token, created_at FROM rooms WHERE code = $1`,
		code).Scan(&room.Code, &room.CreatorToken, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}
	return &room, nil
}
