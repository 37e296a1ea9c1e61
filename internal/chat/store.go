package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
)

// Store persists chat messages and reactions. InsertMessage and
// InsertReaction return apperr.ErrNotLive once the stream has left Live, even
// if it was Live when the caller checked.
type Store interface {
	InsertMessage(ctx context.Context, m *models.ChatMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error)
	// Moderate flags a message once. applied is false when it was already moderated.
	Moderate(ctx context.Context, id, by uuid.UUID, reason string, at time.Time) (m *models.ChatMessage, applied bool, err error)
	// ListMessages returns the newest messages, oldest first.
	ListMessages(ctx context.Context, streamID uuid.UUID, limit int, includeModerated bool) ([]models.ChatMessage, error)
	InsertReaction(ctx context.Context, r *models.Reaction) error
	ReactionCounts(ctx context.Context, streamID uuid.UUID) (map[models.ReactionType]int, error)
}
