package viewers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultIdleTimeout  = 90 * time.Second
	DefaultReapInterval = 30 * time.Second
	reapBatchSize       = 500
	// closedRetention keeps closed stream entries long enough to reject
	// joins that passed the status check just before the stream ended.
	closedRetention = 10 * time.Minute
)

// Reaper closes sessions whose heartbeats stopped.
type Reaper struct {
	tracker  *Tracker
	idle     time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewReaper creates a reaper; zero durations fall back to the defaults.
func NewReaper(tracker *Tracker, idle, interval time.Duration, logger *zap.Logger) *Reaper {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{tracker: tracker, idle: idle, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("viewer reaper started", zap.Duration("idle", r.idle), zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("viewer reaper stopping")
			return nil
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Warn("viewer reap failed", zap.Int("reaped", n), zap.Error(err))
			} else if n > 0 {
				r.logger.Info("reaped idle viewers", zap.Int("reaped", n))
			}
		}
	}
}

// Sweep closes every session idle for longer than the idle timeout and
// drops counters of streams that closed a while ago.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.tracker.now().UTC()
	if n := r.tracker.EvictClosed(now.Add(-closedRetention)); n > 0 {
		r.logger.Debug("evicted closed stream counters", zap.Int("streams", n))
	}
	cutoff := now.Add(-r.idle)
	total := 0
	for {
		n, err := r.tracker.ReapIdle(ctx, cutoff, reapBatchSize)
		total += n
		if err != nil || n < reapBatchSize {
			return total, err
		}
	}
}
