package notifications

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/queue"
)

// Deliverer hands a notification to the delivery channel.
type Deliverer interface {
	Send(ctx context.Context, n *models.StreamNotification) error
}

// JobQueue accepts per-channel notification jobs.
type JobQueue interface {
	EnqueueNotification(ctx context.Context, payload queue.NotificationPayload) error
}

// QueueDeliverer enqueues one job per channel for the channel workers.
type QueueDeliverer struct {
	queue JobQueue
}

// NewQueueDeliverer creates a deliverer over q.
func NewQueueDeliverer(q JobQueue) *QueueDeliverer {
	return &QueueDeliverer{queue: q}
}

// Send enqueues n on each of its channels. A retry after a partial failure
// enqueues every channel again.
func (d *QueueDeliverer) Send(ctx context.Context, n *models.StreamNotification) error {
	for _, ch := range n.Channels {
		err := d.queue.EnqueueNotification(ctx, queue.NotificationPayload{
			NotificationID: n.ID,
			StreamID:       n.StreamID,
			Kind:           string(n.Kind),
			Channel:        string(ch),
			Priority:       string(n.Priority),
			Title:          n.Title,
			Body:           n.Body,
			Scope:          string(n.Scope),
			Recipients:     n.Recipients,
		})
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", ch, err)
		}
	}
	return nil
}

// LogDeliverer writes notifications to the log instead of delivering them.
type LogDeliverer struct {
	logger *zap.Logger
}

// NewLogDeliverer creates a log-only deliverer.
func NewLogDeliverer(logger *zap.Logger) *LogDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDeliverer{logger: logger}
}

func (d *LogDeliverer) Send(_ context.Context, n *models.StreamNotification) error {
	channels := make([]string, len(n.Channels))
	for i, c := range n.Channels {
		channels[i] = string(c)
	}
	d.logger.Info("notification",
		zap.String("notification_id", n.ID.String()),
		zap.String("stream_id", n.StreamID.String()),
		zap.String("kind", string(n.Kind)),
		zap.String("priority", string(n.Priority)),
		zap.Strings("channels", channels),
		zap.String("title", n.Title))
	return nil
}
