package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/queue"
)

type fakeDeliverer struct {
	mu   sync.Mutex
	fail bool
	sent []models.StreamNotification
}

func (f *fakeDeliverer) Send(_ context.Context, n *models.StreamNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("channel down")
	}
	f.sent = append(f.sent, *n)
	return nil
}

func (f *fakeDeliverer) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type fixture struct {
	registry  *streams.Registry
	scheduler *Scheduler
	store     *MemoryStore
	deliverer *fakeDeliverer
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.registry = streams.NewRegistry(streams.NewMemoryStore(), nil, zap.NewNop())
	f.registry.SetClock(clock)
	f.store = NewMemoryStore()
	f.deliverer = &fakeDeliverer{}
	f.scheduler = NewScheduler(f.store, f.deliverer, f.registry, 0, 3, nil, zap.NewNop())
	f.scheduler.SetClock(clock)
	f.registry.OnChange("notifications", f.scheduler.HandleStreamChange)
	return f
}

func (f *fixture) create(t *testing.T, category models.Category, at *time.Time) *models.Stream {
	t.Helper()
	s, err := f.registry.Create(context.Background(), streams.CreateInput{
		Title: "Briefing", Category: category, ScheduledAt: at, OwnerID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return s
}

func (f *fixture) kinds(t *testing.T, streamID uuid.UUID) map[models.NotificationKind]models.StreamNotification {
	t.Helper()
	list, err := f.store.ListByStream(context.Background(), streamID)
	if err != nil {
		t.Fatalf("ListByStream() error: %v", err)
	}
	out := make(map[models.NotificationKind]models.StreamNotification)
	for _, n := range list {
		out[n.Kind] = n
	}
	return out
}

func TestEmergencyStreamNotifiesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(2 * time.Hour)
	s := f.create(t, models.CategoryEmergency, &start)

	got := f.kinds(t, s.ID)
	em, ok := got[models.NotificationEmergency]
	if !ok {
		t.Fatal("Expected an emergency notification at creation")
	}
	if em.SentAt == nil || !em.SentAt.Equal(f.now) {
		t.Errorf("Expected sent at %v, got %v", f.now, em.SentAt)
	}
	if em.Priority != models.PriorityEmergency || len(em.Channels) != len(models.AllChannels) {
		t.Errorf("Expected emergency priority on all channels, got %s on %v", em.Priority, em.Channels)
	}
	if _, ok := got[models.NotificationScheduled]; ok {
		t.Error("Expected no scheduled announcement for an emergency stream")
	}

	f.now = start.Add(-10 * time.Minute)
	reminders, err := f.scheduler.DueReminders(ctx, f.now)
	if err != nil {
		t.Fatalf("DueReminders() error: %v", err)
	}
	if len(reminders) != 0 {
		t.Errorf("Expected emergency stream to skip reminders, got %d", len(reminders))
	}

	if _, err := f.registry.Transition(ctx, s.ID, streams.EventIngestStarted); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	live, ok := f.kinds(t, s.ID)[models.NotificationLive]
	if !ok || live.ID == em.ID || live.SentAt == nil {
		t.Errorf("Expected a separate sent live notification, got %+v", live)
	}
}

func TestRemindersAndDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(time.Hour)
	s := f.create(t, models.CategoryEducation, &start)

	scheduled := f.kinds(t, s.ID)[models.NotificationScheduled]
	if scheduled.SentAt == nil {
		t.Fatal("Expected the scheduled announcement to be sent")
	}
	if len(scheduled.Channels) != 2 || scheduled.Channels[0] != models.ChannelPush || scheduled.Channels[1] != models.ChannelInApp {
		t.Errorf("Expected push + in_app, got %v", scheduled.Channels)
	}

	t.Run("not yet within lead time", func(t *testing.T) {
		got, _ := f.scheduler.DueReminders(ctx, f.now)
		if len(got) != 0 {
			t.Errorf("Expected no reminders an hour out, got %d", len(got))
		}
	})

	t.Run("within lead time once", func(t *testing.T) {
		f.now = start.Add(-29 * time.Minute)
		got, err := f.scheduler.DueReminders(ctx, f.now)
		if err != nil {
			t.Fatalf("DueReminders() error: %v", err)
		}
		if len(got) != 1 || got[0].Kind != models.NotificationStarting {
			t.Fatalf("Expected one starting reminder, got %+v", got)
		}
		if !got[0].ScheduledFor.Equal(start.Add(-DefaultLeadTime)) {
			t.Errorf("Expected due %v, got %v", start.Add(-DefaultLeadTime), got[0].ScheduledFor)
		}
		again, _ := f.scheduler.DueReminders(ctx, f.now.Add(time.Minute))
		if len(again) != 0 {
			t.Errorf("Expected no duplicate reminder, got %d", len(again))
		}
	})
}

func TestDeliveryFailureDoesNotBlockTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, models.CategoryMeeting, nil)
	f.deliverer.setFail(true)

	live, err := f.registry.Transition(ctx, s.ID, streams.EventIngestStarted)
	if err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if live.Status != models.StreamStatusLive {
		t.Fatalf("Expected live, got %s", live.Status)
	}
	n := f.kinds(t, s.ID)[models.NotificationLive]
	if n.SentAt != nil || n.Attempts != 1 || n.LastError == "" {
		t.Errorf("Expected one failed attempt recorded, got %+v", n)
	}

	sent, err := f.scheduler.RetryUnsent(ctx, f.now)
	if err != nil || sent != 0 {
		t.Errorf("Expected retry to fail quietly, got %d, %v", sent, err)
	}

	f.deliverer.setFail(false)
	f.now = f.now.Add(time.Minute)
	sent, err = f.scheduler.RetryUnsent(ctx, f.now)
	if err != nil {
		t.Fatalf("RetryUnsent() error: %v", err)
	}
	if sent != 1 {
		t.Errorf("Expected 1 resent, got %d", sent)
	}
	n = f.kinds(t, s.ID)[models.NotificationLive]
	if n.SentAt == nil || !n.SentAt.Equal(f.now) {
		t.Errorf("Expected sent at %v, got %v", f.now, n.SentAt)
	}
	if sent, _ := f.scheduler.RetryUnsent(ctx, f.now); sent != 0 {
		t.Errorf("Expected nothing left to resend, got %d", sent)
	}
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deliverer.setFail(true)
	s := f.create(t, models.CategoryMeeting, nil)

	for i := 0; i < 5; i++ {
		if _, err := f.scheduler.RetryUnsent(ctx, f.now); err != nil {
			t.Fatalf("RetryUnsent() error: %v", err)
		}
	}
	n := f.kinds(t, s.ID)[models.NotificationScheduled]
	if n.Attempts != 3 {
		t.Errorf("Expected attempts capped at 3, got %d", n.Attempts)
	}
}

func TestEndedCarriesFinalCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, models.CategoryEvent, nil)
	if _, err := f.registry.Transition(ctx, s.ID, streams.EventIngestStarted); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if _, err := f.registry.Transition(ctx, s.ID, streams.EventIngestStopped); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	ended, ok := f.kinds(t, s.ID)[models.NotificationEnded]
	if !ok {
		t.Fatal("Expected an ended notification")
	}
	if ended.Priority != models.PriorityLow {
		t.Errorf("Expected low priority, got %s", ended.Priority)
	}
	if ended.Body != "The broadcast has ended with 0 viewers." {
		t.Errorf("Unexpected body %q", ended.Body)
	}
}

type recordingQueue struct {
	payloads []queue.NotificationPayload
}

func (q *recordingQueue) EnqueueNotification(_ context.Context, p queue.NotificationPayload) error {
	q.payloads = append(q.payloads, p)
	return nil
}

func TestQueueDelivererFansOutPerChannel(t *testing.T) {
	q := &recordingQueue{}
	d := NewQueueDeliverer(q)
	n := &models.StreamNotification{
		ID:       uuid.New(),
		StreamID: uuid.New(),
		Kind:     models.NotificationEmergency,
		Channels: models.AllChannels,
		Priority: models.PriorityEmergency,
	}
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(q.payloads) != 4 {
		t.Fatalf("Expected 4 jobs, got %d", len(q.payloads))
	}
	for i, p := range q.payloads {
		if p.Channel != string(models.AllChannels[i]) || p.NotificationID != n.ID {
			t.Errorf("Expected job %d on %s, got %+v", i, models.AllChannels[i], p)
		}
	}
}
