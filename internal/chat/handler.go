package chat

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/auth"
	"github.com/aura-webinar/livestream/internal/middleware"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/response"
)

// Handler handles chat and reaction endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func streamID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return uuid.Nil, false
	}
	return id, true
}

func caller(c *gin.Context) *uuid.UUID {
	if id, ok := middleware.UserID(c); ok {
		return &id
	}
	return nil
}

// Post handles POST /streams/:id/chat.
func (h *Handler) Post(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	var in PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in.StreamID = id
	in.UserID = caller(c)
	in.Admin = middleware.Role(c) == auth.RoleAdmin
	if in.SessionID == "" {
		in.SessionID = c.GetHeader("X-Session-ID")
	}
	m, err := h.svc.Post(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "post chat message", err)
		return
	}
	response.Created(c, m)
}

// List handles GET /streams/:id/chat?limit=&all=true. The full audit view
// including moderated messages is limited to admins and moderators.
func (h *Handler) List(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	if !h.visible(c, id) {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list := h.svc.ListRecent
	if c.Query("all") == "true" {
		if !auth.CanModerate(middleware.Role(c)) {
			response.Forbidden(c, "moderator role required")
			return
		}
		list = h.svc.ListAll
	}
	msgs, err := list(c.Request.Context(), id, limit)
	if err != nil {
		h.fail(c, "list chat messages", err)
		return
	}
	response.OK(c, gin.H{"messages": msgs})
}

// Moderate handles POST /streams/:id/chat/:message_id/moderate.
func (h *Handler) Moderate(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	msgID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	var in ModerateInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	uid, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "login required")
		return
	}
	in.StreamID = id
	in.MessageID = msgID
	in.ModeratorID = uid
	in.Role = middleware.Role(c)
	m, err := h.svc.Moderate(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "moderate chat message", err)
		return
	}
	response.OK(c, m)
}

// React handles POST /streams/:id/reactions.
func (h *Handler) React(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	var in ReactInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in.StreamID = id
	in.UserID = caller(c)
	in.Admin = middleware.Role(c) == auth.RoleAdmin
	if in.SessionID == "" {
		in.SessionID = c.GetHeader("X-Session-ID")
	}
	r, err := h.svc.React(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "add reaction", err)
		return
	}
	response.Created(c, r)
}

// ReactionCounts handles GET /streams/:id/reactions.
func (h *Handler) ReactionCounts(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	if !h.visible(c, id) {
		return
	}
	counts, err := h.svc.ReactionCounts(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "count reactions", err)
		return
	}
	response.OK(c, gin.H{"reactions": counts})
}

// visible answers 404 for private streams the caller may not see.
func (h *Handler) visible(c *gin.Context, id uuid.UUID) bool {
	s, err := h.svc.streams.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get stream", err)
		return false
	}
	if !streams.CanView(c, s) {
		response.NotFound(c, "stream not found")
		return false
	}
	return true
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if response.StatusFor(err) >= 500 && !errors.Is(err, context.Canceled) {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	response.Error(c, err)
}
