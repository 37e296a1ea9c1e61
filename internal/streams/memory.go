package streams

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/apperr"
)

// MemoryStore is an in-process Store for tests and single-instance setups.
// Values are copied in and out so callers never share mutable state.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*models.Stream
	byKey map[string]uuid.UUID
}

// NewMemoryStore creates an empty in-memory stream store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[uuid.UUID]*models.Stream),
		byKey: make(map[string]uuid.UUID),
	}
}

func clone(s *models.Stream) *models.Stream {
	c := *s
	if s.FinalViewerCount != nil {
		n := *s.FinalViewerCount
		c.FinalViewerCount = &n
	}
	c.ScheduledAt = copyTime(s.ScheduledAt)
	c.StartedAt = copyTime(s.StartedAt)
	c.EndedAt = copyTime(s.EndedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Create inserts s.
func (m *MemoryStore) Create(_ context.Context, s *models.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.ID]; ok {
		return fmt.Errorf("%w: stream id", apperr.ErrConflict)
	}
	if _, ok := m.byKey[s.IngestKey]; ok {
		return fmt.Errorf("%w: ingest key", apperr.ErrConflict)
	}
	s.UpdatedAt = s.CreatedAt
	m.byID[s.ID] = clone(s)
	m.byKey[s.IngestKey] = s.ID
	return nil
}

// Get returns a copy of the stream.
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: stream", apperr.ErrNotFound)
	}
	return clone(s), nil
}

// GetByIngestKey returns a copy of the stream owning key.
func (m *MemoryStore) GetByIngestKey(ctx context.Context, key string) (*models.Stream, error) {
	m.mu.RLock()
	id, ok := m.byKey[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stream", apperr.ErrNotFound)
	}
	return m.Get(ctx, id)
}

// List filters, orders and pages the stored streams.
func (m *MemoryStore) List(_ context.Context, f Filter) ([]models.Stream, int, error) {
	f = f.normalized()
	m.mu.RLock()
	var matched []models.Stream
	for _, s := range m.byID {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Category != "" && s.Category != f.Category {
			continue
		}
		if f.Visibility != "" && s.Visibility != f.Visibility {
			continue
		}
		if f.OwnerID != nil && s.OwnerID != *f.OwnerID {
			continue
		}
		if f.PublicOrOwner != nil && s.Visibility != models.VisibilityPublic && s.OwnerID != *f.PublicOrOwner {
			continue
		}
		matched = append(matched, *clone(s))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		ki, kj := sortKey(&matched[i]), sortKey(&matched[j])
		if !ki.Equal(kj) {
			return ki.After(kj)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	total := len(matched)
	start := f.offset()
	if start >= total {
		return []models.Stream{}, total, nil
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func sortKey(s *models.Stream) time.Time {
	if s.ScheduledAt != nil {
		return *s.ScheduledAt
	}
	return s.CreatedAt
}

// UpdateDetails applies in while the stream is Scheduled.
func (m *MemoryStore) UpdateDetails(_ context.Context, id uuid.UUID, in UpdateInput, at time.Time) (*models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: stream", apperr.ErrNotFound)
	}
	if s.Status != models.StreamStatusScheduled {
		return nil, errNotEditable
	}
	if in.Title != nil {
		s.Title = *in.Title
	}
	if in.Description != nil {
		s.Description = *in.Description
	}
	if in.Category != nil {
		s.Category = *in.Category
	}
	if in.Visibility != nil {
		s.Visibility = *in.Visibility
	}
	if in.RecordingEnabled != nil {
		s.RecordingEnabled = *in.RecordingEnabled
	}
	if in.ScheduledAt != nil {
		t := *in.ScheduledAt
		s.ScheduledAt = &t
	}
	s.UpdatedAt = at
	return clone(s), nil
}

// CompareAndSetStatus moves the stream from -> to with the lifecycle side effects.
func (m *MemoryStore) CompareAndSetStatus(_ context.Context, id uuid.UUID, from, to models.StreamStatus, ch StatusChange) (*models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: stream", apperr.ErrNotFound)
	}
	if s.Status != from {
		return nil, fmt.Errorf("%w: stream is no longer %s", apperr.ErrInvalidTransition, from)
	}
	at := ch.At
	switch to {
	case models.StreamStatusLive:
		s.StartedAt = &at
		s.LiveViewerCount = 0
		s.PeakViewerCount = 0
	case models.StreamStatusEnded:
		if s.EndedAt != nil {
			return nil, fmt.Errorf("%w: stream already ended", apperr.ErrInvalidTransition)
		}
		s.EndedAt = &at
		if ch.FinalViewerCount != nil {
			n := *ch.FinalViewerCount
			s.FinalViewerCount = &n
		}
		s.LiveViewerCount = 0
	}
	s.Status = to
	s.UpdatedAt = at
	return clone(s), nil
}

// AttachRecording sets the recording URL while Live or Ended.
func (m *MemoryStore) AttachRecording(_ context.Context, id uuid.UUID, url string, at time.Time) (*models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: stream", apperr.ErrNotFound)
	}
	if s.Status != models.StreamStatusLive && s.Status != models.StreamStatusEnded {
		return nil, errNotEditable
	}
	s.RecordingURL = url
	s.UpdatedAt = at
	return clone(s), nil
}

// UpdateViewerCounts writes live count and raises peak, only while Live.
func (m *MemoryStore) UpdateViewerCounts(_ context.Context, id uuid.UUID, live, peak int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || s.Status != models.StreamStatusLive {
		return nil
	}
	s.LiveViewerCount = live
	if peak > s.PeakViewerCount {
		s.PeakViewerCount = peak
	}
	s.UpdatedAt = at
	return nil
}

// ListScheduledBefore returns Scheduled streams due at or before t.
func (m *MemoryStore) ListScheduledBefore(_ context.Context, t time.Time) ([]models.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Stream
	for _, s := range m.byID {
		if s.Status == models.StreamStatusScheduled && s.ScheduledAt != nil && !s.ScheduledAt.After(t) {
			out = append(out, *clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return out, nil
}

// ListLive returns every Live stream.
func (m *MemoryStore) ListLive(_ context.Context) ([]models.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Stream
	for _, s := range m.byID {
		if s.Status == models.StreamStatusLive {
			out = append(out, *clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
