// Package viewers tracks who is watching each stream: session records,
// live and peak counts, idle reaping and unique-viewer counting.
package viewers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/analytics"
	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/realtime"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/apperr"
)

// StreamSource reads streams and stores their viewer counts.
type StreamSource interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	RecordViewerCounts(ctx context.Context, id uuid.UUID, live, peak int) error
}

// Publisher fans viewer events out to stream subscribers.
type Publisher interface {
	PublishPayload(ctx context.Context, streamID uuid.UUID, t realtime.EventType, payload interface{}) error
}

// Recorder receives analytics deltas.
type Recorder interface {
	Record(ctx context.Context, streamID uuid.UUID, d analytics.Delta) error
}

// JoinInput identifies a viewer joining a stream. SessionID is generated when empty.
// Admin lets the caller join private streams they do not own.
type JoinInput struct {
	StreamID  uuid.UUID
	SessionID string
	UserID    *uuid.UUID
	Admin     bool
	Metadata  models.ViewerMetadata
}

// Tracker owns viewer sessions and per-stream counts.
type Tracker struct {
	store     Store
	streams   StreamSource
	counter   *Counter
	publisher Publisher
	recorder  Recorder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewTracker creates a tracker. publisher and recorder may be nil.
func NewTracker(store Store, src StreamSource, publisher Publisher, recorder Recorder, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:     store,
		streams:   src,
		counter:   NewCounter(),
		publisher: publisher,
		recorder:  recorder,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Join opens a session on a Live stream. Joining again with an active session
// id on the same stream returns that session unchanged apart from a heartbeat.
// An active session on another stream is closed first.
func (t *Tracker) Join(ctx context.Context, in JoinInput) (*models.ViewerSession, error) {
	s, err := t.streams.Get(ctx, in.StreamID)
	if err != nil {
		return nil, err
	}
	if !s.VisibleTo(in.UserID, in.Admin) {
		return nil, fmt.Errorf("%w: stream %s", apperr.ErrNotFound, in.StreamID)
	}
	if s.Status != models.StreamStatusLive {
		return nil, fmt.Errorf("%w: stream is %s", apperr.ErrNotLive, s.Status)
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	now := t.now().UTC()

	existing, err := t.store.GetActive(ctx, in.SessionID)
	switch {
	case err == nil && existing.StreamID == in.StreamID:
		if err := t.store.Touch(ctx, in.SessionID, now); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		existing.LastSeenAt = now
		return existing, nil
	case err == nil:
		if _, err := t.leave(ctx, in.SessionID, now); err != nil {
			return nil, fmt.Errorf("close previous session: %w", err)
		}
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	sess := &models.ViewerSession{
		ID:         uuid.New(),
		SessionID:  in.SessionID,
		StreamID:   in.StreamID,
		UserID:     in.UserID,
		JoinedAt:   now,
		LastSeenAt: now,
		Metadata:   in.Metadata,
	}
	if err := t.store.Insert(ctx, sess); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// Lost a race with a concurrent join of the same session.
			if cur, gerr := t.store.GetActive(ctx, in.SessionID); gerr == nil && cur.StreamID == in.StreamID {
				return cur, nil
			}
		}
		return nil, err
	}

	live, peak, ok := t.refresh(ctx, in.StreamID, 1)
	if !ok {
		// The stream ended between the status check and the count.
		if _, err := t.store.Close(ctx, in.SessionID, now); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			t.logger.Warn("close session after late join failed", zap.String("session_id", in.SessionID), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: stream ended", apperr.ErrNotLive)
	}
	t.metrics.IncViewerJoins()
	t.logger.Debug("viewer joined",
		zap.String("stream_id", in.StreamID.String()),
		zap.String("session_id", in.SessionID),
		zap.Int("live", live))

	t.afterCountChange(ctx, in.StreamID, live, peak)
	t.publish(ctx, in.StreamID, realtime.EventViewerJoined, realtime.ViewerCountPayload{
		SessionID: sess.SessionID, UserID: sess.UserID, ViewerCount: live, PeakCount: peak,
	})
	unique, err := t.store.CountUniqueBetween(ctx, in.StreamID, analytics.HourBucket(now), analytics.HourBucket(now).Add(time.Hour))
	if err != nil {
		t.logger.Warn("count hourly unique viewers failed", zap.String("stream_id", in.StreamID.String()), zap.Error(err))
	}
	t.record(ctx, in.StreamID, analytics.Delta{
		At:                now,
		NewJoins:          1,
		ConcurrentViewers: &live,
		PeakConcurrent:    peak,
		UniqueViewers:     unique,
	})
	return sess, nil
}

// Leave closes the session. Leaving an unknown session returns nil, nil;
// leaving twice returns the already-closed session and changes nothing.
func (t *Tracker) Leave(ctx context.Context, sessionID string) (*models.ViewerSession, error) {
	return t.leave(ctx, sessionID, t.now().UTC())
}

func (t *Tracker) leave(ctx context.Context, sessionID string, at time.Time) (*models.ViewerSession, error) {
	closed, err := t.store.Close(ctx, sessionID, at)
	if errors.Is(err, apperr.ErrNotFound) {
		prev, gerr := t.store.GetLatest(ctx, sessionID)
		if errors.Is(gerr, apperr.ErrNotFound) {
			return nil, nil
		}
		return prev, gerr
	}
	if err != nil {
		return nil, err
	}
	t.afterLeave(ctx, closed)
	return closed, nil
}

func (t *Tracker) afterLeave(ctx context.Context, s *models.ViewerSession) {
	live, peak, _ := t.refresh(ctx, s.StreamID, -1)
	t.metrics.IncViewerLeaves(1)
	t.logger.Debug("viewer left",
		zap.String("stream_id", s.StreamID.String()),
		zap.String("session_id", s.SessionID),
		zap.Int64("watch_seconds", s.WatchSeconds()))

	t.afterCountChange(ctx, s.StreamID, live, peak)
	t.publish(ctx, s.StreamID, realtime.EventViewerLeft, realtime.ViewerCountPayload{
		SessionID: s.SessionID, UserID: s.UserID, ViewerCount: live, PeakCount: peak,
	})
	t.record(ctx, s.StreamID, analytics.Delta{
		At:                *s.LeftAt,
		ViewerDrops:       1,
		WatchSeconds:      s.WatchSeconds(),
		ConcurrentViewers: &live,
	})
}

// Touch records a heartbeat for an active session.
func (t *Tracker) Touch(ctx context.Context, sessionID string) error {
	return t.store.Touch(ctx, sessionID, t.now().UTC())
}

// CloseAll ends every active session of a stream at endedAt and stops
// accepting joins for it.
func (t *Tracker) CloseAll(ctx context.Context, streamID uuid.UUID, endedAt time.Time) (int, error) {
	t.counter.Close(streamID, t.now().UTC())
	active, err := t.store.ListActiveByStream(ctx, streamID)
	if err != nil {
		return 0, err
	}
	var (
		closed int
		watch  int64
	)
	for _, s := range active {
		c, err := t.store.Close(ctx, s.SessionID, endedAt)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return closed, err
		}
		closed++
		watch += c.WatchSeconds()
	}
	if closed == 0 {
		return 0, nil
	}
	t.metrics.IncViewerLeaves(closed)
	zero := 0
	t.record(ctx, streamID, analytics.Delta{
		At:                endedAt,
		ViewerDrops:       closed,
		WatchSeconds:      watch,
		ConcurrentViewers: &zero,
	})
	t.logger.Info("closed viewer sessions at stream end",
		zap.String("stream_id", streamID.String()),
		zap.Int("sessions", closed))
	return closed, nil
}

// ReapIdle closes sessions without a heartbeat since before the cutoff. The
// leave time of a reaped session is its last heartbeat.
func (t *Tracker) ReapIdle(ctx context.Context, before time.Time, limit int) (int, error) {
	idle, err := t.store.ListIdle(ctx, before, limit)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, s := range idle {
		closed, err := t.store.CloseIdle(ctx, s.SessionID, before)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return reaped, err
		}
		reaped++
		t.afterLeave(ctx, closed)
	}
	t.metrics.IncViewersReaped(reaped)
	return reaped, nil
}

// HandleStreamChange closes all sessions when a stream ends.
func (t *Tracker) HandleStreamChange(ctx context.Context, ch streams.Change) error {
	switch ch.Stream.Status {
	case models.StreamStatusEnded:
		at := t.now().UTC()
		if ch.Stream.EndedAt != nil {
			at = *ch.Stream.EndedAt
		}
		_, err := t.CloseAll(ctx, ch.Stream.ID, at)
		return err
	case models.StreamStatusCancelled:
		t.counter.Close(ch.Stream.ID, t.now().UTC())
	}
	return nil
}

// CurrentCount returns the number of open sessions of a stream, whichever
// instance they joined through.
func (t *Tracker) CurrentCount(ctx context.Context, streamID uuid.UUID) (int, error) {
	return t.store.CountActive(ctx, streamID)
}

// Peak returns the highest live count this instance has observed for a stream.
func (t *Tracker) Peak(streamID uuid.UUID) int {
	_, peak := t.counter.Snapshot(streamID)
	return peak
}

// EvictClosed forgets streams closed before the cutoff.
func (t *Tracker) EvictClosed(before time.Time) int {
	return t.counter.Evict(before)
}

// UniqueViewers counts distinct viewers over the stream's lifetime.
func (t *Tracker) UniqueViewers(ctx context.Context, streamID uuid.UUID) (int, error) {
	return t.store.CountUnique(ctx, streamID)
}

// UniqueViewersBetween counts distinct viewers present in [from, to).
func (t *Tracker) UniqueViewersBetween(ctx context.Context, streamID uuid.UUID, from, to time.Time) (int, error) {
	return t.store.CountUniqueBetween(ctx, streamID, from, to)
}

// ListSessions returns the newest sessions of a stream.
func (t *Tracker) ListSessions(ctx context.Context, streamID uuid.UUID, limit int) ([]models.ViewerSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	return t.store.ListByStream(ctx, streamID, limit)
}

// RecordActivity adds chat and reaction counts to an active session.
func (t *Tracker) RecordActivity(ctx context.Context, sessionID string, chat, reactions int) error {
	if sessionID == "" {
		return nil
	}
	return t.store.AddActivity(ctx, sessionID, chat, reactions)
}

// refresh reads the live count from the session store and caches it. If the
// store cannot be read the cached count is moved by delta instead. ok is
// false once the stream has closed on this instance.
func (t *Tracker) refresh(ctx context.Context, streamID uuid.UUID, delta int) (live, peak int, ok bool) {
	live, err := t.store.CountActive(ctx, streamID)
	if err != nil {
		t.logger.Warn("count active sessions failed", zap.String("stream_id", streamID.String()), zap.Error(err))
		cached, _ := t.counter.Snapshot(streamID)
		live = cached + delta
		if live < 0 {
			live = 0
		}
	}
	peak, ok = t.counter.Observe(streamID, live)
	if !ok {
		return 0, peak, false
	}
	return live, peak, true
}

func (t *Tracker) afterCountChange(ctx context.Context, streamID uuid.UUID, live, peak int) {
	if err := t.streams.RecordViewerCounts(ctx, streamID, live, peak); err != nil {
		t.logger.Warn("record viewer counts failed", zap.String("stream_id", streamID.String()), zap.Error(err))
	}
}

func (t *Tracker) publish(ctx context.Context, streamID uuid.UUID, et realtime.EventType, payload interface{}) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishPayload(ctx, streamID, et, payload); err != nil {
		t.logger.Warn("publish viewer event failed", zap.String("event", string(et)), zap.Error(err))
	}
}

func (t *Tracker) record(ctx context.Context, streamID uuid.UUID, d analytics.Delta) {
	if t.recorder == nil {
		return
	}
	if err := t.recorder.Record(ctx, streamID, d); err != nil {
		t.logger.Warn("record viewer analytics failed", zap.String("stream_id", streamID.String()), zap.Error(err))
	}
}

// Presence adapts the tracker to websocket connections.
func (t *Tracker) Presence() realtime.Presence {
	return presence{t: t}
}

type presence struct{ t *Tracker }

func (p presence) Connect(ctx context.Context, streamID uuid.UUID, sessionID string, viewer realtime.Viewer, meta models.ViewerMetadata) (string, error) {
	s, err := p.t.Join(ctx, JoinInput{
		StreamID:  streamID,
		SessionID: sessionID,
		UserID:    viewer.UserID,
		Admin:     viewer.Admin,
		Metadata:  meta,
	})
	if err != nil {
		return "", err
	}
	return s.SessionID, nil
}

func (p presence) Heartbeat(ctx context.Context, sessionID string) error {
	return p.t.Touch(ctx, sessionID)
}

func (p presence) Disconnect(ctx context.Context, sessionID string) error {
	_, err := p.t.Leave(ctx, sessionID)
	return err
}
