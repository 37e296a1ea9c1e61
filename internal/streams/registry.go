// Package streams owns stream metadata and the broadcast lifecycle:
// Scheduled -> Live -> Ended, or Scheduled -> Cancelled.
package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/apperr"
)

const ingestKeyPrefix = "live_"

// ViewerCounter reports the live viewer count used to freeze final_viewer_count.
type ViewerCounter interface {
	CurrentCount(ctx context.Context, streamID uuid.UUID) (int, error)
}

// Change describes a stored lifecycle change delivered to hooks.
type Change struct {
	Stream *models.Stream
	From   models.StreamStatus
	Event  Event
}

// Hook observes lifecycle changes after they are stored. A hook error is
// logged and never undoes the change.
type Hook func(ctx context.Context, ch Change) error

// CreateInput is the owner-supplied definition of a new stream.
type CreateInput struct {
	Title            string            `json:"title" binding:"required"`
	Description      string            `json:"description"`
	Category         models.Category   `json:"category"`
	Visibility       models.Visibility `json:"visibility"`
	RecordingEnabled bool              `json:"recording_enabled"`
	ScheduledAt      *time.Time        `json:"scheduled_at"`
	OwnerID          uuid.UUID         `json:"-"`
}

// Registry is the single mutation path for stream status.
type Registry struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	counter ViewerCounter
	hooks   []namedHook
}

type namedHook struct {
	name string
	fn   Hook
}

// NewRegistry creates a stream registry over store.
func NewRegistry(store Store, m *metrics.Metrics, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, logger: logger, metrics: m, now: time.Now}
}

// SetClock overrides the time source.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// SetViewerCounter sets the source of the live count frozen at Ended.
func (r *Registry) SetViewerCounter(c ViewerCounter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter = c
}

// OnChange registers a hook. Hooks run in registration order.
func (r *Registry) OnChange(name string, fn Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, namedHook{name: name, fn: fn})
}

// Create stores a new Scheduled stream with a fresh ingest key.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*models.Stream, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title required", apperr.ErrInvalidInput)
	}
	if in.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner required", apperr.ErrInvalidInput)
	}
	if in.Category == "" {
		in.Category = models.CategoryMeeting
	}
	if !in.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", apperr.ErrInvalidInput, in.Category)
	}
	if in.Visibility == "" {
		in.Visibility = models.VisibilityPublic
	}
	if !in.Visibility.Valid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", apperr.ErrInvalidInput, in.Visibility)
	}

	now := r.now().UTC()
	s := &models.Stream{
		ID:               uuid.New(),
		Title:            in.Title,
		Description:      in.Description,
		Category:         in.Category,
		Visibility:       in.Visibility,
		Status:           models.StreamStatusScheduled,
		RecordingEnabled: in.RecordingEnabled,
		ScheduledAt:      in.ScheduledAt,
		OwnerID:          in.OwnerID,
		CreatedAt:        now,
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		s.IngestKey = NewIngestKey()
		if err = r.store.Create(ctx, s); !errors.Is(err, apperr.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	r.logger.Info("stream created", zap.String("stream_id", s.ID.String()), zap.String("category", string(s.Category)))
	r.notify(ctx, Change{Stream: s, From: "", Event: EventCreated})
	return s, nil
}

// Transition applies ev to the stream. Concurrent transitions race on a
// compare-and-set; the loser gets apperr.ErrInvalidTransition.
func (r *Registry) Transition(ctx context.Context, id uuid.UUID, ev Event) (*models.Stream, error) {
	cur, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	to, ok := NextStatus(cur.Status, ev)
	if !ok {
		return nil, fmt.Errorf("%w: %s not allowed from %s", apperr.ErrInvalidTransition, ev, cur.Status)
	}

	ch := StatusChange{At: r.now().UTC()}
	if to == models.StreamStatusEnded {
		final := r.liveCount(ctx, cur)
		ch.FinalViewerCount = &final
	}
	updated, err := r.store.CompareAndSetStatus(ctx, id, cur.Status, to, ch)
	if err != nil {
		return nil, err
	}
	r.metrics.IncTransition(string(to))
	r.logger.Info("stream transitioned",
		zap.String("stream_id", id.String()),
		zap.String("from", string(cur.Status)),
		zap.String("to", string(to)),
		zap.String("event", string(ev)))
	r.notify(ctx, Change{Stream: updated, From: cur.Status, Event: ev})
	return updated, nil
}

// Get returns a stream by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	return r.store.Get(ctx, id)
}

// GetByIngestKey returns the stream owning key.
func (r *Registry) GetByIngestKey(ctx context.Context, key string) (*models.Stream, error) {
	return r.store.GetByIngestKey(ctx, key)
}

// List returns a filtered page of streams and the total match count.
func (r *Registry) List(ctx context.Context, f Filter) ([]models.Stream, int, error) {
	return r.store.List(ctx, f)
}

// ListLive returns all Live streams.
func (r *Registry) ListLive(ctx context.Context) ([]models.Stream, error) {
	return r.store.ListLive(ctx)
}

// ListScheduledBefore returns Scheduled streams due at or before t.
func (r *Registry) ListScheduledBefore(ctx context.Context, t time.Time) ([]models.Stream, error) {
	return r.store.ListScheduledBefore(ctx, t)
}

// Update edits a Scheduled stream.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*models.Stream, error) {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title required", apperr.ErrInvalidInput)
		}
		in.Title = &t
	}
	if in.Category != nil && !in.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", apperr.ErrInvalidInput, *in.Category)
	}
	if in.Visibility != nil && !in.Visibility.Valid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", apperr.ErrInvalidInput, *in.Visibility)
	}
	s, err := r.store.UpdateDetails(ctx, id, in, r.now().UTC())
	if errors.Is(err, errNotEditable) {
		return nil, r.classifyEditError(ctx, id)
	}
	return s, err
}

// AttachRecording stores the recording location on a Live or Ended stream.
func (r *Registry) AttachRecording(ctx context.Context, id uuid.UUID, url string) (*models.Stream, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: recording url required", apperr.ErrInvalidInput)
	}
	s, err := r.store.AttachRecording(ctx, id, url, r.now().UTC())
	if errors.Is(err, errNotEditable) {
		cur, gerr := r.store.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status == models.StreamStatusCancelled {
			return nil, fmt.Errorf("%w: stream was cancelled", apperr.ErrImmutableAfterEnd)
		}
		return nil, fmt.Errorf("%w: stream has not started", apperr.ErrInvalidTransition)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("recording attached", zap.String("stream_id", id.String()))
	return s, nil
}

// RecordViewerCounts persists the live count and peak of a Live stream.
// Non-live streams are left untouched.
func (r *Registry) RecordViewerCounts(ctx context.Context, id uuid.UUID, live, peak int) error {
	return r.store.UpdateViewerCounts(ctx, id, live, peak, r.now().UTC())
}

func (r *Registry) classifyEditError(ctx context.Context, id uuid.UUID) error {
	cur, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch cur.Status {
	case models.StreamStatusLive:
		return apperr.ErrImmutableWhileLive
	case models.StreamStatusEnded, models.StreamStatusCancelled:
		return apperr.ErrImmutableAfterEnd
	}
	return fmt.Errorf("%w: stream changed concurrently", apperr.ErrConflict)
}

// liveCount falls back to the last persisted count when the counter fails.
func (r *Registry) liveCount(ctx context.Context, cur *models.Stream) int {
	r.mu.RLock()
	c := r.counter
	r.mu.RUnlock()
	if c == nil {
		return 0
	}
	n, err := c.CurrentCount(ctx, cur.ID)
	if err != nil {
		r.logger.Warn("count live viewers failed", zap.String("stream_id", cur.ID.String()), zap.Error(err))
		return cur.LiveViewerCount
	}
	return n
}

func (r *Registry) notify(ctx context.Context, ch Change) {
	r.mu.RLock()
	hooks := make([]namedHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.RUnlock()

	// Hooks outlive the triggering request.
	ctx = context.WithoutCancel(ctx)
	for _, h := range hooks {
		if err := h.fn(ctx, ch); err != nil {
			r.logger.Warn("stream change hook failed",
				zap.String("hook", h.name),
				zap.String("stream_id", ch.Stream.ID.String()),
				zap.String("event", string(ch.Event)),
				zap.Error(err))
		}
	}
}

// NewIngestKey returns a fresh unguessable ingest key.
func NewIngestKey() string {
	return ingestKeyPrefix + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
