package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
)

// Store persists notifications. Create returns apperr.ErrConflict when the
// stream already has a notification of the same kind.
type Store interface {
	Create(ctx context.Context, n *models.StreamNotification) error
	Get(ctx context.Context, id uuid.UUID) (*models.StreamNotification, error)
	// MarkSent sets sent_at once; applied is false when it was already set.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (applied bool, err error)
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error
	// ListUnsent returns unsent notifications due by the cutoff with fewer than maxAttempts attempts.
	ListUnsent(ctx context.Context, dueBy time.Time, maxAttempts, limit int) ([]models.StreamNotification, error)
	ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.StreamNotification, error)
}
