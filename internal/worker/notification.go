package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/queue"
)

// Sender hands a notification to one external delivery channel.
type Sender interface {
	Send(ctx context.Context, n queue.NotificationPayload) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n queue.NotificationPayload) error

func (f SenderFunc) Send(ctx context.Context, n queue.NotificationPayload) error { return f(ctx, n) }

// LogSender writes notifications to the log. Used where no provider is configured.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, n queue.NotificationPayload) error {
	s.Logger.Info("notification dispatched",
		zap.String("notification_id", n.NotificationID.String()),
		zap.String("stream_id", n.StreamID.String()),
		zap.String("channel", n.Channel),
		zap.String("kind", n.Kind),
		zap.String("priority", n.Priority),
		zap.String("title", n.Title))
	return nil
}

// NotificationProcessor routes queued notifications to their channel sender.
type NotificationProcessor struct {
	senders map[models.Channel]Sender
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewNotificationProcessor creates a processor with the given channel senders.
func NewNotificationProcessor(senders map[models.Channel]Sender, m *metrics.Metrics, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{senders: senders, metrics: m, logger: logger}
}

// Queues returns the list keys for every channel with a sender.
func (p *NotificationProcessor) Queues() []string {
	keys := make([]string, 0, len(p.senders))
	for _, ch := range models.AllChannels {
		if _, ok := p.senders[ch]; ok {
			keys = append(keys, queue.NotificationQueue(string(ch)))
		}
	}
	return keys
}

// Process delivers one notification job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	var n queue.NotificationPayload
	if err := job.Decode(&n); err != nil {
		return err
	}
	sender, ok := p.senders[models.Channel(n.Channel)]
	if !ok {
		return fmt.Errorf("no sender for channel %q", n.Channel)
	}
	if err := sender.Send(ctx, n); err != nil {
		p.metrics.IncNotification(n.Kind, "channel_error")
		return fmt.Errorf("send %s: %w", n.Channel, err)
	}
	p.metrics.IncNotification(n.Kind, "dispatched")
	return nil
}
