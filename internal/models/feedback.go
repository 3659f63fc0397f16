package models

import "time"

// FeedbackEntry is one submitted rating with comment. Entries are append-only
// and immutable; emotion is frozen at submission time.
type FeedbackEntry struct {
	ID          int64     `json:"id"`
	RoomCode    string    `json:"room_code"`
	Username    string    `json:"username"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment"`
	Emotion     string    `json:"emotion"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Summary aggregates a room's feedback. Average is nil when the room has no
// entries; Distribution index i holds the count of rating i+1.
type Summary struct {
	Count        int      `json:"count"`
	Distribution [5]int   `json:"distribution"`
	Average      *float64 `json:"average"`
	Suggestion   string   `json:"suggestion"`
}
