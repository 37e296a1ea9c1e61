package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/models"
)

// LiveStreams lists streams currently Live.
type LiveStreams interface {
	ListLive(ctx context.Context) ([]models.Stream, error)
}

// ViewerStats reads live and distinct viewer counts.
type ViewerStats interface {
	CurrentCount(ctx context.Context, streamID uuid.UUID) (int, error)
	UniqueViewersBetween(ctx context.Context, streamID uuid.UUID, from, to time.Time) (int, error)
}

// Sampler periodically records point-in-time viewer samples for Live streams.
type Sampler struct {
	agg      *Aggregator
	streams  LiveStreams
	viewers  ViewerStats
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewSampler creates a sampler that records every interval.
func NewSampler(agg *Aggregator, streams LiveStreams, viewers ViewerStats, interval time.Duration, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sampler{agg: agg, streams: streams, viewers: viewers, interval: interval, now: time.Now, logger: logger}
}

// SetClock overrides the time source.
func (s *Sampler) SetClock(now func() time.Time) { s.now = now }

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("analytics sampler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("analytics sampler stopping")
			return nil
		case <-ticker.C:
			if n, err := s.SampleAll(ctx); err != nil {
				s.logger.Warn("analytics sample failed", zap.Int("sampled", n), zap.Error(err))
			}
		}
	}
}

// SampleAll records one sample per Live stream and returns how many were recorded.
func (s *Sampler) SampleAll(ctx context.Context) (int, error) {
	live, err := s.streams.ListLive(ctx)
	if err != nil {
		return 0, err
	}
	at := s.now().UTC()
	n := 0
	for i := range live {
		count, err := s.viewers.CurrentCount(ctx, live[i].ID)
		if err != nil {
			s.logger.Warn("count live viewers failed", zap.String("stream_id", live[i].ID.String()), zap.Error(err))
			continue
		}
		if err := s.sample(ctx, live[i].ID, at, count); err != nil {
			s.logger.Warn("sample stream failed", zap.String("stream_id", live[i].ID.String()), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Flush records the closing sample for a stream that just ended.
func (s *Sampler) Flush(ctx context.Context, stream *models.Stream) error {
	at := s.now().UTC()
	if stream.EndedAt != nil {
		at = stream.EndedAt.UTC()
	}
	return s.sample(ctx, stream.ID, at, 0)
}

func (s *Sampler) sample(ctx context.Context, streamID uuid.UUID, at time.Time, concurrent int) error {
	hour := HourBucket(at)
	unique, err := s.viewers.UniqueViewersBetween(ctx, streamID, hour, at)
	if err != nil {
		return err
	}
	return s.agg.Record(ctx, streamID, Delta{
		At:                at,
		ConcurrentViewers: &concurrent,
		UniqueViewers:     unique,
	})
}
