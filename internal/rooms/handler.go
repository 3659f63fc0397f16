package rooms

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roompulse/backend/pkg/response"
)

// DefaultRating is the rating the submission form starts at and resets to.
// The original drafts disagreed between 3 and 4; 3 is the served behavior.
const DefaultRating = 3

// Handler handles room HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a rooms handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /rooms. The creator token is returned exactly once,
// here; it is never sent to any other caller.
func (h *Handler) Create(c *gin.Context) {
	room, err := h.repo.Create(c.Request.Context())
	if err != nil {
		h.logger.Error("create room", zap.Error(err))
		response.ServiceUnavailable(c, "storage unavailable, retry later")
		return
	}
	h.logger.Info("room created", zap.String("code", room.Code))
	response.Created(c, gin.H{
		"code":          room.Code,
		"creator_token": room.CreatorToken,
		"created_at":    room.CreatedAt,
	})
}

// Get handles GET /rooms/:code, a public existence check.
func (h *Handler) Get(c *gin.Context) {
	code := c.Param("code")
	if !ValidCode(code) {
		response.BadRequest(c, "room code must be 6 characters A-Z or 0-9")
		return
	}
	room, err := h.repo.GetByCode(c.Request.Context(), code)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "room not found")
		return
	}
	if err != nil {
		h.logger.Error("get room", zap.Error(err))
		response.ServiceUnavailable(c, "storage unavailable, retry later")
		return
	}
	response.OK(c, room)
}

// Join handles POST /rooms/:code/join. It confirms the room exists and
// seeds the attendee with a generated display name.
func (h *Handler) Join(c *gin.Context) {
	code := c.Param("code")
	if !ValidCode(code) {
		response.BadRequest(c, "room code must be 6 characters A-Z or 0-9")
		return
	}
	room, err := h.repo.GetByCode(c.Request.Context(), code)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "room not found")
		return
	}
	if err != nil {
		h.logger.Error("join room", zap.Error(err))
		response.ServiceUnavailable(c, "storage unavailable, retry later")
		return
	}
	response.OK(c, gin.H{
		"code":           room.Code,
		"username":       GenerateUsername(),
		"default_rating": DefaultRating,
	})
}
