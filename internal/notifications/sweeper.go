package notifications

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically sends due reminders and retries failed deliveries.
type Sweeper struct {
	scheduler *Scheduler
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper creates a sweeper running every interval (default one minute).
func NewSweeper(s *Scheduler, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{scheduler: s, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("notification sweeper started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("notification sweeper stopping")
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one reminder pass and one retry pass.
func (w *Sweeper) Sweep(ctx context.Context) {
	now := w.scheduler.now().UTC()
	reminders, err := w.scheduler.DueReminders(ctx, now)
	if err != nil {
		w.logger.Warn("reminder sweep failed", zap.Error(err))
	} else if len(reminders) > 0 {
		w.logger.Info("reminders created", zap.Int("count", len(reminders)))
	}
	if n, err := w.scheduler.RetryUnsent(ctx, now); err != nil {
		w.logger.Warn("notification retry failed", zap.Int("sent", n), zap.Error(err))
	} else if n > 0 {
		w.logger.Info("notifications resent", zap.Int("count", n))
	}
}
