package analytics

import (
	"context"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
)

// Store upserts rows keyed by (stream, hour bucket).
type Store interface {
	// Upsert creates the row for HourBucket(d.At) or merges d into it.
	Upsert(ctx context.Context, streamID uuid.UUID, d Delta) (*models.HourlyAnalytics, error)
	// List returns the stream's rows ordered by hour ascending.
	List(ctx context.Context, streamID uuid.UUID) ([]models.HourlyAnalytics, error)
}
