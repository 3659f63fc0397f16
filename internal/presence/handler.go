package presence

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roompulse/backend/internal/rooms"
	"github.com/roompulse/backend/pkg/response"
)

// Handler handles presence HTTP endpoints (creator-only views).
type Handler struct {
	tracker  *Tracker
	sessions *Repository
	rooms    *rooms.Repository
	logger   *zap.Logger
}

// NewHandler creates a presence handler.
func NewHandler(tracker *Tracker, sessions *Repository, roomRepo *rooms.Repository, logger *zap.Logger) *Handler {
	return &Handler{tracker: tracker, sessions: sessions, rooms: roomRepo, logger: logger}
}

// Count handles GET /rooms/:code/presence (creator only).
func (h *Handler) Count(c *gin.Context) {
	code, ok := h.requireCreator(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"count": h.tracker.Count(code)})
}

// Attendees handles GET /rooms/:code/attendees (creator only): the open
// presence sessions from the audit log.
func (h *Handler) Attendees(c *gin.Context) {
	code, ok := h.requireCreator(c)
	if !ok {
		return
	}
	sessions, err := h.sessions.ListOpenByRoom(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("list attendees", zap.Error(err))
		response.ServiceUnavailable(c, "storage unavailable, retry later")
		return
	}
	response.OK(c, sessions)
}

// requireCreator validates the code, looks up the room and checks the
// creator capability. It writes the error response itself on failure.
func (h *Handler) requireCreator(c *gin.Context) (string, bool) {
	code := c.Param("code")
	if !rooms.ValidCode(code) {
		response.BadRequest(c, "room code must be 6 characters A-Z or 0-9")
		return "", false
	}
	room, err := h.rooms.GetByCode(c.Request.Context(), code)
	if errors.Is(err, rooms.ErrNotFound) {
		response.NotFound(c, "room not found")
		return "", false
	}
	if err != nil {
		h.logger.Error("get room", zap.Error(err))
		response.ServiceUnavailable(c, "storage unavailable, retry later")
		return "", false
	}
	if rooms.ResolveRole(room, c.GetHeader("X-Creator-Token")) != rooms.RoleCreator {
		response.Forbidden(c, "creator token required")
		return "", false
	}
	return code, true
}
