package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/apperr"
	"github.com/aura-webinar/livestream/pkg/response"
)

// SecretHeader carries the media server's shared secret.
const SecretHeader = "X-Ingest-Secret"

// publishCallback is the body the media server posts on publish events.
// nginx-rtmp sends the stream key as "name".
type publishCallback struct {
	Name string `form:"name" json:"name"`
	Key  string `form:"key" json:"key"`
}

func (p publishCallback) key() string {
	if p.Key != "" {
		return p.Key
	}
	return p.Name
}

// Handler serves the media server callbacks and the owner end action.
type Handler struct {
	gate   *Gatekeeper
	secret string
	logger *zap.Logger
}

// NewHandler creates an ingest handler. An empty secret disables the check.
func NewHandler(gate *Gatekeeper, secret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{gate: gate, secret: secret, logger: logger}
}

func (h *Handler) authorized(c *gin.Context) bool {
	if h.secret == "" {
		return true
	}
	got := c.GetHeader(SecretHeader)
	if got == "" {
		got = c.Query("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

func (h *Handler) bind(c *gin.Context) (string, bool) {
	if !h.authorized(c) {
		response.Unauthorized(c, "invalid ingest secret")
		return "", false
	}
	var body publishCallback
	if err := c.ShouldBind(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return "", false
	}
	return body.key(), true
}

// Publish handles POST /ingest/publish. A non-2xx response tells the media
// server to drop the connection.
func (h *Handler) Publish(c *gin.Context) {
	key, ok := h.bind(c)
	if !ok {
		return
	}
	s, err := h.gate.AuthorizePublish(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			response.Forbidden(c, "publish rejected")
			return
		}
		h.logger.Error("authorize publish failed", zap.Error(err))
		response.Internal(c, "publish failed")
		return
	}
	response.OK(c, gin.H{"stream_id": s.ID, "status": s.Status})
}

// PublishDone handles POST /ingest/publish_done.
func (h *Handler) PublishDone(c *gin.Context) {
	key, ok := h.bind(c)
	if !ok {
		return
	}
	if err := h.gate.PublishStopped(c.Request.Context(), key); err != nil {
		h.logger.Error("publish stopped failed", zap.Error(err))
		response.Internal(c, "failed to end stream")
		return
	}
	c.Status(http.StatusOK)
}

// End handles POST /streams/:id/end (owner/admin).
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	s, err := h.gate.registry.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !streams.IsOwnerOrAdmin(c, s) {
		response.Forbidden(c, "only the stream owner can do this")
		return
	}
	ended, err := h.gate.EndStream(c.Request.Context(), id)
	if err != nil {
		if response.StatusFor(err) >= 500 && !errors.Is(err, context.Canceled) {
			h.logger.Error("end stream failed", zap.Error(err))
		}
		response.Error(c, err)
		return
	}
	response.OK(c, ended)
}
