package rooms

import (
	"crypto/subtle"

	"github.com/roompulse/backend/internal/models"
)

// Role is what a caller may do in a room.
type Role string

const (
	// RoleCreator may view aggregates and the live attendee count.
	RoleCreator Role = "creator"
	// RoleAttendee may submit feedback only.
	RoleAttendee Role = "attendee"
)

// ResolveRole grants creator iff the presented token equals the room's
// creator token. This is a capability check, not identity authentication:
// possessing the token is sufficient.
func ResolveRole(room *models.Room, presentedToken string) Role {
	if room == nil || presentedToken == "" {
		return RoleAttendee
	}
	if subtle.ConstantTimeCompare([]byte(room.CreatorToken), []byte(presentedToken)) == 1 {
		return RoleCreator
	}
	return RoleAttendee
}
