package models

import "time"

// Room is a feedback-collection session identified by a short share code.
// The creator token is the only creator credential and is never serialized.
type Room struct {
	Code         string    `json:"code"`
	CreatorToken string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
