package notifications

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/response"
)

// StreamReader loads streams for ownership checks.
type StreamReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Stream, error)
}

// Handler handles GET /streams/:id/notifications.
type Handler struct {
	scheduler *Scheduler
	streams   StreamReader
	logger    *zap.Logger
}

// NewHandler creates a notification handler.
func NewHandler(s *Scheduler, streams StreamReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{scheduler: s, streams: streams, logger: logger}
}

// List handles GET /streams/:id/notifications (owner/admin).
func (h *Handler) List(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	s, err := h.streams.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !streams.IsOwnerOrAdmin(c, s) {
		response.Forbidden(c, "only the stream owner can list notifications")
		return
	}
	list, err := h.scheduler.List(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Error("list notifications failed", zap.Error(err))
		}
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"notifications": list})
}
