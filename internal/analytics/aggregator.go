package analytics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
)

// Aggregator records deltas into hourly rows.
type Aggregator struct {
	store   Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store Store, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, metrics: m, logger: logger}
}

// Record upserts d into the row for (streamID, HourBucket(d.At)). The bucket
// depends only on d.At, so late data lands in its original hour.
func (a *Aggregator) Record(ctx context.Context, streamID uuid.UUID, d Delta) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, err := a.store.Upsert(ctx, streamID, d); err != nil {
		return fmt.Errorf("upsert hourly analytics: %w", err)
	}
	a.metrics.IncAnalyticsUpserts()
	return nil
}

// GetAnalytics returns the stream's rows ordered by hour ascending.
func (a *Aggregator) GetAnalytics(ctx context.Context, streamID uuid.UUID) ([]models.HourlyAnalytics, error) {
	return a.store.List(ctx, streamID)
}
