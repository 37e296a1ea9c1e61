package viewers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
)

// Store persists viewer sessions. At most one session per session id is
// active at a time; Insert returns apperr.ErrConflict otherwise.
//
// Close and CloseIdle end the active session exactly once: a second caller
// gets apperr.ErrNotFound. The stored leave time is never before join time.
type Store interface {
	Insert(ctx context.Context, s *models.ViewerSession) error
	GetActive(ctx context.Context, sessionID string) (*models.ViewerSession, error)
	GetLatest(ctx context.Context, sessionID string) (*models.ViewerSession, error)
	Close(ctx context.Context, sessionID string, leftAt time.Time) (*models.ViewerSession, error)
	// CloseIdle ends the session at its last_seen_at if it was last seen before the cutoff.
	CloseIdle(ctx context.Context, sessionID string, before time.Time) (*models.ViewerSession, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	ListActiveByStream(ctx context.Context, streamID uuid.UUID) ([]models.ViewerSession, error)
	CountActive(ctx context.Context, streamID uuid.UUID) (int, error)
	ListIdle(ctx context.Context, before time.Time, limit int) ([]models.ViewerSession, error)
	ListByStream(ctx context.Context, streamID uuid.UUID, limit int) ([]models.ViewerSession, error)
	CountUnique(ctx context.Context, streamID uuid.UUID) (int, error)
	// CountUniqueBetween counts distinct viewers whose session overlaps [from, to).
	CountUniqueBetween(ctx context.Context, streamID uuid.UUID, from, to time.Time) (int, error)
	AddActivity(ctx context.Context, sessionID string, chat, reactions int) error
}
