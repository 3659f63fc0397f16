package feedback

import (
	"errors"
	"strings"

	"github.com/roompulse/backend/internal/models"
)

// Validation errors. These are terminal for the request: the caller must
// change the input before resubmitting.
var (
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrEmptyComment  = errors.New("comment must not be empty")
	ErrEmptyUsername = errors.New("username must not be empty")
)

// NewEntry validates a submission and builds the entry to append. Ratings
// outside 1-5 are rejected, never clamped. ID and SubmittedAt are assigned
// by the store on append.
func NewEntry(roomCode, username string, rating int, comment string) (*models.FeedbackEntry, error) {
	username = strings.TrimSpace(username)
	comment = strings.TrimSpace(comment)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	if comment == "" {
		return nil, ErrEmptyComment
	}
	return &models.FeedbackEntry{
		RoomCode: roomCode,
		Username: username,
		Rating:   rating,
		Comment:  comment,
		Emotion:  EmotionForRating(rating),
	}, nil
}
