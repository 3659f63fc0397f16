package feedback

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roompulse/backend/internal/models"
	"github.com/roompulse/backend/internal/realtime"
	"github.com/roompulse/backend/internal/rooms"
	"github.com/roompulse/backend/pkg/response"
)

// SubmitRequest is the body for POST /rooms/:code/feedback.
type SubmitRequest struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

// Handler handles feedback HTTP endpoints.
type Handler struct {
	repo   *Repository
	rooms  *rooms.Repository
	hub    *realtime.Hub
	logger *zap.Logger
}

// NewHandler creates a feedback handler.
func NewHandler(repo *Repository, roomRepo *rooms.Repository, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		repo:   repo,
		rooms:  roomRepo,
		hub:    hub,
		logger: logger,
	}
}

// Submit handles POST /rooms/:code/feedback. The append and its
// feedback_added event go through hub.Commit, which serializes them with
// the room's snapshots: event order matches commit order and a failed
// write emits nothing.
func (h *Handler) Submit(c *gin.Context) {
	room, ok := h.lookupRoom(c)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	entry, err := NewEntry(room.Code, req.Username, req.Rating, req.Comment)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	err = h.hub.Commit(room.Code, realtime.EventFeedbackAdded, func() (interface{}, error) {
		if err := h.repo.Insert(c.Request.Context(), entry); err != nil {
			return nil, err
		}
		return entry, nil
	})
	if err != nil {
		h.logger.Error("insert feedback", zap.String("room", room.Code), zap.Error(err))
		response.ServiceUnavailable(c, "storage unavailable, retry later")
		return
	}
	h.logger.Info("feedback submitted",
		zap.String("room", room.Code), zap.Int64("id", entry.ID), zap.Int("rating", entry.Rating))
	response.Created(c, entry)
}

// List handles GET /rooms/:code/feedback (creator only): entries in
// canonical order, empty list for a quiet room.
func (h *Handler) List(c *gin.Context) {
	room, ok := h.lookupRoom(c)
	if !ok {
		return
	}
	if !h.requireCreator(c, room) {
		return
	}
	entries, err := h.repo.ListByRoom(c.Request.Context(), room.Code)
	if err != nil {
		h.logger.Error("list feedback", zap.String("room", room.Code), zap.Error(err))
		response.ServiceUnavailable(c, "storage unavailable, retry later")
		return
	}
	response.OK(c, entries)
}

// Summary handles GET /rooms/:code/summary (creator only).
func (h *Handler) Summary(c *gin.Context) {
	room, ok := h.lookupRoom(c)
	if !ok {
		return
	}
	if !h.requireCreator(c, room) {
		return
	}
	entries, err := h.repo.ListByRoom(c.Request.Context(), room.Code)
	if err != nil {
		h.logger.Error("summarize feedback", zap.String("room", room.Code), zap.Error(err))
		response.ServiceUnavailable(c, "storage unavailable, retry later")
		return
	}
	response.OK(c, Summarize(entries))
}

func (h *Handler) lookupRoom(c *gin.Context) (*models.Room, bool) {
	code := c.Param("code")
	if !rooms.ValidCode(code) {
		response.BadRequest(c, "room code must be 6 characters A-Z or 0-9")
		return nil, false
	}
	room, err := h.rooms.GetByCode(c.Request.Context(), code)
	if errors.Is(err, rooms.ErrNotFound) {
		response.NotFound(c, "room not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("get room", zap.Error(err))
		response.ServiceUnavailable(c, "storage unavailable, retry later")
		return nil, false
	}
	return room, true
}

func (h *Handler) requireCreator(c *gin.Context, room *models.Room) bool {
	if rooms.ResolveRole(room, c.GetHeader("X-Creator-Token")) != rooms.RoleCreator {
		response.Forbidden(c, "creator token required")
		return false
	}
	return true
}
