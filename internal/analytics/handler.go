package analytics

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/response"
)

// StreamReader loads stream metadata.
type StreamReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Stream, error)
}

// UniqueCounter returns the stream-wide distinct viewer count.
type UniqueCounter interface {
	UniqueViewers(ctx context.Context, streamID uuid.UUID) (int, error)
}

// Handler handles /streams/:id/analytics endpoints.
type Handler struct {
	agg     *Aggregator
	streams StreamReader
	unique  UniqueCounter
	logger  *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(agg *Aggregator, streams StreamReader, unique UniqueCounter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{agg: agg, streams: streams, unique: unique, logger: logger}
}

// QualityReport is the body for POST /streams/:id/analytics/quality.
type QualityReport struct {
	BufferingEvents  int      `json:"buffering_events" binding:"min=0"`
	ConnectionIssues int      `json:"connection_issues" binding:"min=0"`
	QualityScore     *float64 `json:"quality_score" binding:"omitempty,min=0,max=100"`
}

// GetByStream handles GET /streams/:id/analytics (owner or admin).
func (h *Handler) GetByStream(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	if !streams.IsOwnerOrAdmin(c, s) {
		response.Forbidden(c, "only the stream owner can view analytics")
		return
	}
	ctx := c.Request.Context()
	rows, err := h.agg.GetAnalytics(ctx, s.ID)
	if err != nil {
		h.logger.Error("load analytics failed", zap.String("stream_id", s.ID.String()), zap.Error(err))
		response.Internal(c, "failed to load analytics")
		return
	}
	unique, err := h.unique.UniqueViewers(ctx, s.ID)
	if err != nil {
		h.logger.Error("count unique viewers failed", zap.String("stream_id", s.ID.String()), zap.Error(err))
		response.Internal(c, "failed to load analytics")
		return
	}
	if rows == nil {
		rows = []models.HourlyAnalytics{}
	}
	response.OK(c, gin.H{"hours": rows, "summary": Summarize(rows, unique)})
}

// ReportQuality handles POST /streams/:id/analytics/quality from a viewer's player.
func (h *Handler) ReportQuality(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	if !streams.CanView(c, s) {
		response.NotFound(c, "stream not found")
		return
	}
	if s.Status != models.StreamStatusLive {
		response.Conflict(c, "stream is not live")
		return
	}
	var body QualityReport
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	err := h.agg.Record(c.Request.Context(), s.ID, Delta{
		At:               time.Now().UTC(),
		BufferingEvents:  body.BufferingEvents,
		ConnectionIssues: body.ConnectionIssues,
		QualityScore:     body.QualityScore,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) load(c *gin.Context) (*models.Stream, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return nil, false
	}
	s, err := h.streams.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return s, true
}
