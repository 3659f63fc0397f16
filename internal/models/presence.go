package models

import "time"

// PresenceSession is one attendee connection inside a room. At most one live
// session exists per connection ID per room.
type PresenceSession struct {
	RoomCode     string    `json:"room_code"`
	ConnectionID string    `json:"connection_id"`
	JoinedAt     time.Time `json:"joined_at"`
}
