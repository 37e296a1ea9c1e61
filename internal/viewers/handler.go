package viewers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/auth"
	"github.com/aura-webinar/livestream/internal/middleware"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/response"
)

// StreamReader loads streams for ownership checks.
type StreamReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Stream, error)
}

// Handler handles viewer session endpoints.
type Handler struct {
	tracker *Tracker
	streams StreamReader
	logger  *zap.Logger
}

// NewHandler creates a viewer handler.
func NewHandler(tracker *Tracker, streams StreamReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tracker: tracker, streams: streams, logger: logger}
}

type joinRequest struct {
	SessionID      string `json:"session_id"`
	DeviceType     string `json:"device_type"`
	ConnectionType string `json:"connection_type"`
}

// Join handles POST /streams/:id/viewers/join.
func (h *Handler) Join(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	var req joinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if req.SessionID == "" {
		req.SessionID = c.GetHeader("X-Session-ID")
	}
	in := JoinInput{
		StreamID:  streamID,
		SessionID: req.SessionID,
		Metadata: models.ViewerMetadata{
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
			DeviceType:     req.DeviceType,
			ConnectionType: req.ConnectionType,
		},
	}
	if uid, ok := middleware.UserID(c); ok {
		in.UserID = &uid
	}
	in.Admin = middleware.Role(c) == auth.RoleAdmin
	s, err := h.tracker.Join(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "join stream", err)
		return
	}
	response.Created(c, s)
}

// Leave handles POST /viewers/:session_id/leave.
func (h *Handler) Leave(c *gin.Context) {
	s, err := h.tracker.Leave(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.fail(c, "leave stream", err)
		return
	}
	if s == nil {
		response.OK(c, gin.H{"left": false})
		return
	}
	response.OK(c, gin.H{"left": true, "session": s, "watch_seconds": s.WatchSeconds()})
}

// Heartbeat handles POST /viewers/:session_id/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	if err := h.tracker.Touch(c.Request.Context(), c.Param("session_id")); err != nil {
		h.fail(c, "heartbeat", err)
		return
	}
	response.OK(c, gin.H{"ok": true})
}

// Count handles GET /streams/:id/viewers/count.
func (h *Handler) Count(c *gin.Context) {
	s, ok := h.loadVisible(c)
	if !ok {
		return
	}
	live, err := h.tracker.CurrentCount(c.Request.Context(), s.ID)
	if err != nil {
		h.fail(c, "count viewers", err)
		return
	}
	peak := s.PeakViewerCount
	if p := h.tracker.Peak(s.ID); p > peak {
		peak = p
	}
	response.OK(c, gin.H{"viewer_count": live, "peak_count": peak})
}

// Unique handles GET /streams/:id/viewers/unique.
func (h *Handler) Unique(c *gin.Context) {
	s, ok := h.loadVisible(c)
	if !ok {
		return
	}
	n, err := h.tracker.UniqueViewers(c.Request.Context(), s.ID)
	if err != nil {
		h.fail(c, "count unique viewers", err)
		return
	}
	response.OK(c, gin.H{"unique_viewers": n})
}

// List handles GET /streams/:id/viewers (owner/admin).
func (h *Handler) List(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	s, err := h.streams.Get(c.Request.Context(), streamID)
	if err != nil {
		h.fail(c, "get stream", err)
		return
	}
	if !streams.IsOwnerOrAdmin(c, s) {
		response.Forbidden(c, "only the stream owner can list viewers")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.tracker.ListSessions(c.Request.Context(), streamID, limit)
	if err != nil {
		h.fail(c, "list viewers", err)
		return
	}
	response.OK(c, gin.H{"sessions": list})
}

// loadVisible answers 404 for private streams the caller may not see.
func (h *Handler) loadVisible(c *gin.Context) (*models.Stream, bool) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return nil, false
	}
	s, err := h.streams.Get(c.Request.Context(), streamID)
	if err != nil {
		h.fail(c, "get stream", err)
		return nil, false
	}
	if !streams.CanView(c, s) {
		response.NotFound(c, "stream not found")
		return nil, false
	}
	return s, true
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if response.StatusFor(err) >= 500 && !errors.Is(err, context.Canceled) {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	response.Error(c, err)
}
