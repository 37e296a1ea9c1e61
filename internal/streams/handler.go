package streams

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/auth"
	"github.com/aura-webinar/livestream/internal/middleware"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/response"
)

// RecordingPresigner issues time-limited download links for stored recordings.
type RecordingPresigner interface {
	RecordingDownloadURL(ctx context.Context, streamID string) (string, error)
}

// Handler handles stream HTTP endpoints.
type Handler struct {
	registry      *Registry
	presigner     RecordingPresigner
	ingestBaseURL string
	logger        *zap.Logger
}

// NewHandler creates a stream handler. presigner may be nil when object storage is disabled.
func NewHandler(registry *Registry, presigner RecordingPresigner, ingestBaseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, presigner: presigner, ingestBaseURL: strings.TrimRight(ingestBaseURL, "/"), logger: logger}
}

// ingestView is returned to the owner only.
type ingestView struct {
	*models.Stream
	IngestKey string `json:"ingest_key"`
	IngestURL string `json:"ingest_url,omitempty"`
}

func (h *Handler) withIngest(s *models.Stream) ingestView {
	v := ingestView{Stream: s, IngestKey: s.IngestKey}
	if h.ingestBaseURL != "" {
		v.IngestURL = h.ingestBaseURL + "/" + s.IngestKey
	}
	return v
}

// Create handles POST /streams.
func (h *Handler) Create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in.OwnerID, _ = middleware.UserID(c)
	s, err := h.registry.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "create stream", err)
		return
	}
	response.Created(c, h.withIngest(s))
}

// List handles GET /streams?status=&category=&visibility=&owner_id=&page=&page_size=.
func (h *Handler) List(c *gin.Context) {
	f := Filter{
		Status:     models.StreamStatus(c.Query("status")),
		Category:   models.Category(c.Query("category")),
		Visibility: models.Visibility(c.Query("visibility")),
	}
	f.Page, _ = strconv.Atoi(c.Query("page"))
	f.PageSize, _ = strconv.Atoi(c.Query("page_size"))
	if v := c.Query("owner_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(c, "invalid owner_id")
			return
		}
		f.OwnerID = &id
	}
	if middleware.Role(c) != auth.RoleAdmin {
		caller, _ := middleware.UserID(c)
		f.PublicOrOwner = &caller
	}
	list, total, err := h.registry.List(c.Request.Context(), f)
	if err != nil {
		h.fail(c, "list streams", err)
		return
	}
	f = f.normalized()
	response.OK(c, gin.H{"streams": list, "total": total, "page": f.Page, "page_size": f.PageSize})
}

// Get handles GET /streams/:id.
func (h *Handler) Get(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	if !CanView(c, s) {
		response.NotFound(c, "stream not found")
		return
	}
	response.OK(c, s)
}

// Ingest handles GET /streams/:id/ingest (owner/admin): returns the publish credentials.
func (h *Handler) Ingest(c *gin.Context) {
	s, ok := h.loadOwned(c)
	if !ok {
		return
	}
	response.OK(c, h.withIngest(s))
}

// Update handles PATCH /streams/:id.
func (h *Handler) Update(c *gin.Context) {
	s, ok := h.loadOwned(c)
	if !ok {
		return
	}
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	updated, err := h.registry.Update(c.Request.Context(), s.ID, in)
	if err != nil {
		h.fail(c, "update stream", err)
		return
	}
	response.OK(c, updated)
}

// Cancel handles POST /streams/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	s, ok := h.loadOwned(c)
	if !ok {
		return
	}
	updated, err := h.registry.Transition(c.Request.Context(), s.ID, EventCancel)
	if err != nil {
		h.fail(c, "cancel stream", err)
		return
	}
	response.OK(c, updated)
}

// RecordingURL handles GET /streams/:id/recording: a presigned download link.
func (h *Handler) RecordingURL(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	if !CanView(c, s) {
		response.NotFound(c, "stream not found")
		return
	}
	if s.RecordingURL == "" {
		response.NotFound(c, "recording not available")
		return
	}
	if h.presigner == nil {
		response.OK(c, gin.H{"url": s.RecordingURL})
		return
	}
	url, err := h.presigner.RecordingDownloadURL(c.Request.Context(), s.ID.String())
	if err != nil {
		h.fail(c, "presign recording", err)
		return
	}
	response.OK(c, gin.H{"url": url})
}

func (h *Handler) load(c *gin.Context) (*models.Stream, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return nil, false
	}
	s, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get stream", err)
		return nil, false
	}
	return s, true
}

func (h *Handler) loadOwned(c *gin.Context) (*models.Stream, bool) {
	s, ok := h.load(c)
	if !ok {
		return nil, false
	}
	if !IsOwnerOrAdmin(c, s) {
		response.Forbidden(c, "only the stream owner can do this")
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

// CanView reports whether the caller may see s at all.
func CanView(c *gin.Context, s *models.Stream) bool {
	var uid *uuid.UUID
	if id, ok := middleware.UserID(c); ok {
		uid = &id
	}
	return s.VisibleTo(uid, middleware.Role(c) == auth.RoleAdmin)
}

// IsOwnerOrAdmin reports whether the caller owns s or is an admin.
func IsOwnerOrAdmin(c *gin.Context, s *models.Stream) bool {
	if middleware.Role(c) == auth.RoleAdmin {
		return true
	}
	id, ok := middleware.UserID(c)
	return ok && id == s.OwnerID
}
