// Package notifications produces stream lifecycle notifications: announcements,
// reminders ahead of the scheduled start, live and ended notices, and
// immediate emergency alerts.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/apperr"
)

const (
	DefaultLeadTime    = 30 * time.Minute
	DefaultMaxAttempts = 5
	sweepBatchSize     = 200
)

// ScheduledStreams lists Scheduled streams starting before a time.
type ScheduledStreams interface {
	ListScheduledBefore(ctx context.Context, t time.Time) ([]models.Stream, error)
}

// Scheduler creates notifications and hands them to the deliverer.
type Scheduler struct {
	store       Store
	deliverer   Deliverer
	streams     ScheduledStreams
	leadTime    time.Duration
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewScheduler creates a scheduler. Zero leadTime and maxAttempts use the defaults.
func NewScheduler(store Store, deliverer Deliverer, src ScheduledStreams, leadTime time.Duration, maxAttempts int, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if leadTime <= 0 {
		leadTime = DefaultLeadTime
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:       store,
		deliverer:   deliverer,
		streams:     src,
		leadTime:    leadTime,
		maxAttempts: maxAttempts,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// channelsFor returns the delivery channels for a stream's notifications.
func channelsFor(st *models.Stream) []models.Channel {
	if st.IsEmergency() {
		return append([]models.Channel(nil), models.AllChannels...)
	}
	return []models.Channel{models.ChannelPush, models.ChannelInApp}
}

func (s *Scheduler) build(st *models.Stream, kind models.NotificationKind, priority models.Priority, title, body string, due time.Time) *models.StreamNotification {
	return &models.StreamNotification{
		ID:           uuid.New(),
		StreamID:     st.ID,
		Kind:         kind,
		Title:        title,
		Body:         body,
		Scope:        models.RecipientsAll,
		Channels:     channelsFor(st),
		Priority:     priority,
		ScheduledFor: due,
		CreatedAt:    s.now().UTC(),
	}
}

// OnScheduled announces a newly scheduled stream.
func (s *Scheduler) OnScheduled(ctx context.Context, st *models.Stream) (*models.StreamNotification, error) {
	body := "A new broadcast has been scheduled."
	if st.ScheduledAt != nil {
		body = fmt.Sprintf("Starts at %s.", st.ScheduledAt.UTC().Format(time.RFC1123))
	}
	n := s.build(st, models.NotificationScheduled, models.PriorityNormal, st.Title, body, s.now().UTC())
	return s.createAndSend(ctx, n)
}

// OnEmergencyCreated sends an immediate alert for an emergency stream on every
// channel at the highest priority.
func (s *Scheduler) OnEmergencyCreated(ctx context.Context, st *models.Stream) (*models.StreamNotification, error) {
	n := s.build(st, models.NotificationEmergency, models.PriorityEmergency,
		"Emergency: "+st.Title, "An emergency broadcast has been issued.", s.now().UTC())
	n.Channels = append([]models.Channel(nil), models.AllChannels...)
	return s.createAndSend(ctx, n)
}

// OnLive announces that a stream is live.
func (s *Scheduler) OnLive(ctx context.Context, st *models.Stream) (*models.StreamNotification, error) {
	n := s.build(st, models.NotificationLive, models.PriorityHigh, st.Title+" is live", "Tune in now.", s.now().UTC())
	return s.createAndSend(ctx, n)
}

// OnEnded announces the end of a stream with its final viewer count.
func (s *Scheduler) OnEnded(ctx context.Context, st *models.Stream, finalCount int) (*models.StreamNotification, error) {
	body := fmt.Sprintf("The broadcast has ended with %d viewers.", finalCount)
	if st.RecordingEnabled {
		body += " A recording will be available soon."
	}
	n := s.build(st, models.NotificationEnded, models.PriorityLow, st.Title+" has ended", body, s.now().UTC())
	return s.createAndSend(ctx, n)
}

// DueReminders creates and sends a "starting" reminder for every non-emergency
// Scheduled stream starting within the lead time. Streams that already have a
// reminder are skipped.
func (s *Scheduler) DueReminders(ctx context.Context, now time.Time) ([]models.StreamNotification, error) {
	due, err := s.streams.ListScheduledBefore(ctx, now.Add(s.leadTime))
	if err != nil {
		return nil, err
	}
	var out []models.StreamNotification
	for i := range due {
		st := &due[i]
		if st.IsEmergency() || st.ScheduledAt == nil {
			continue
		}
		n := s.build(st, models.NotificationStarting, models.PriorityNormal,
			st.Title+" starts soon",
			fmt.Sprintf("Starts at %s.", st.ScheduledAt.UTC().Format(time.RFC1123)),
			st.ScheduledAt.Add(-s.leadTime).UTC())
		created, err := s.createAndSend(ctx, n)
		if err != nil {
			s.logger.Warn("create reminder failed", zap.String("stream_id", st.ID.String()), zap.Error(err))
			continue
		}
		if created != nil {
			out = append(out, *created)
		}
	}
	return out, nil
}

// RetryUnsent resends due notifications whose earlier delivery failed and
// returns how many were sent.
func (s *Scheduler) RetryUnsent(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.store.ListUnsent(ctx, now, s.maxAttempts, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range pending {
		ok, err := s.deliver(ctx, &pending[i])
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// HandleStreamChange maps lifecycle changes to notifications. Delivery
// failures are left to the retry sweep.
func (s *Scheduler) HandleStreamChange(ctx context.Context, ch streams.Change) error {
	var err error
	switch {
	case ch.Event == streams.EventCreated && ch.Stream.IsEmergency():
		_, err = s.OnEmergencyCreated(ctx, ch.Stream)
	case ch.Event == streams.EventCreated:
		_, err = s.OnScheduled(ctx, ch.Stream)
	case ch.Stream.Status == models.StreamStatusLive:
		_, err = s.OnLive(ctx, ch.Stream)
	case ch.Stream.Status == models.StreamStatusEnded:
		final := 0
		if ch.Stream.FinalViewerCount != nil {
			final = *ch.Stream.FinalViewerCount
		}
		_, err = s.OnEnded(ctx, ch.Stream, final)
	}
	return err
}

// List returns a stream's notifications.
func (s *Scheduler) List(ctx context.Context, streamID uuid.UUID) ([]models.StreamNotification, error) {
	return s.store.ListByStream(ctx, streamID)
}

// createAndSend stores n and attempts delivery. It returns nil, nil when a
// notification of the same kind already exists for the stream.
func (s *Scheduler) createAndSend(ctx context.Context, n *models.StreamNotification) (*models.StreamNotification, error) {
	if err := s.store.Create(ctx, n); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			s.metrics.IncNotification(string(n.Kind), "duplicate")
			return nil, nil
		}
		return nil, fmt.Errorf("create %s notification: %w", n.Kind, err)
	}
	if n.ScheduledFor.After(s.now()) {
		return n, nil
	}
	if _, err := s.deliver(ctx, n); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, n.ID)
}

// deliver sends n and marks it sent. A delivery failure is recorded and
// logged; only store errors are returned.
func (s *Scheduler) deliver(ctx context.Context, n *models.StreamNotification) (bool, error) {
	if err := s.deliverer.Send(ctx, n); err != nil {
		err = fmt.Errorf("%w: %v", apperr.ErrDeliveryFailed, err)
		s.metrics.IncNotification(string(n.Kind), "failed")
		s.logger.Warn("notification delivery failed",
			zap.String("notification_id", n.ID.String()),
			zap.String("stream_id", n.StreamID.String()),
			zap.String("kind", string(n.Kind)),
			zap.Int("attempt", n.Attempts+1),
			zap.Error(err))
		if rerr := s.store.RecordFailure(ctx, n.ID, err.Error()); rerr != nil {
			return false, rerr
		}
		return false, nil
	}
	applied, err := s.store.MarkSent(ctx, n.ID, s.now().UTC())
	if err != nil {
		return false, err
	}
	if applied {
		s.metrics.IncNotification(string(n.Kind), "sent")
		s.logger.Info("notification sent",
			zap.String("notification_id", n.ID.String()),
			zap.String("stream_id", n.StreamID.String()),
			zap.String("kind", string(n.Kind)))
	}
	return applied, nil
}
