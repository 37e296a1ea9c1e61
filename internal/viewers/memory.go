package viewers

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

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions []*models.ViewerSession
	active   map[string]*models.ViewerSession
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{active: make(map[string]*models.ViewerSession)}
}

func cloneSession(s *models.ViewerSession) *models.ViewerSession {
	c := *s
	if s.UserID != nil {
		id := *s.UserID
		c.UserID = &id
	}
	if s.LeftAt != nil {
		t := *s.LeftAt
		c.LeftAt = &t
	}
	return &c
}

func errNoSession(sessionID string) error {
	return fmt.Errorf("%w: viewer session %s", apperr.ErrNotFound, sessionID)
}

func (m *MemoryStore) Insert(_ context.Context, s *models.ViewerSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[s.SessionID]; ok {
		return fmt.Errorf("%w: session %s already active", apperr.ErrConflict, s.SessionID)
	}
	c := cloneSession(s)
	c.LeftAt = nil
	m.sessions = append(m.sessions, c)
	m.active[c.SessionID] = c
	return nil
}

func (m *MemoryStore) GetActive(_ context.Context, sessionID string) (*models.ViewerSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.active[sessionID]
	if !ok {
		return nil, errNoSession(sessionID)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) GetLatest(_ context.Context, sessionID string) (*models.ViewerSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.ViewerSession
	for _, s := range m.sessions {
		if s.SessionID == sessionID && (latest == nil || !s.JoinedAt.Before(latest.JoinedAt)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, errNoSession(sessionID)
	}
	return cloneSession(latest), nil
}

func (m *MemoryStore) closeLocked(s *models.ViewerSession, leftAt time.Time) *models.ViewerSession {
	if leftAt.Before(s.JoinedAt) {
		leftAt = s.JoinedAt
	}
	s.LeftAt = &leftAt
	delete(m.active, s.SessionID)
	return cloneSession(s)
}

func (m *MemoryStore) Close(_ context.Context, sessionID string, leftAt time.Time) (*models.ViewerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[sessionID]
	if !ok {
		return nil, errNoSession(sessionID)
	}
	return m.closeLocked(s, leftAt), nil
}

func (m *MemoryStore) CloseIdle(_ context.Context, sessionID string, before time.Time) (*models.ViewerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[sessionID]
	if !ok || !s.LastSeenAt.Before(before) {
		return nil, errNoSession(sessionID)
	}
	return m.closeLocked(s, s.LastSeenAt), nil
}

func (m *MemoryStore) Touch(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[sessionID]
	if !ok {
		return errNoSession(sessionID)
	}
	if at.After(s.LastSeenAt) {
		s.LastSeenAt = at
	}
	return nil
}

func (m *MemoryStore) collect(match func(*models.ViewerSession) bool) []models.ViewerSession {
	var out []models.ViewerSession
	for _, s := range m.sessions {
		if match(s) {
			out = append(out, *cloneSession(s))
		}
	}
	return out
}

func (m *MemoryStore) ListActiveByStream(_ context.Context, streamID uuid.UUID) ([]models.ViewerSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(s *models.ViewerSession) bool {
		return s.StreamID == streamID && s.LeftAt == nil
	}), nil
}

func (m *MemoryStore) CountActive(_ context.Context, streamID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.active {
		if s.StreamID == streamID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListIdle(_ context.Context, before time.Time, limit int) ([]models.ViewerSession, error) {
	m.mu.RLock()
	out := m.collect(func(s *models.ViewerSession) bool {
		return s.LeftAt == nil && s.LastSeenAt.Before(before)
	})
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.Before(out[j].LastSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByStream(_ context.Context, streamID uuid.UUID, limit int) ([]models.ViewerSession, error) {
	m.mu.RLock()
	out := m.collect(func(s *models.ViewerSession) bool { return s.StreamID == streamID })
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) countDistinct(match func(*models.ViewerSession) bool) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, s := range m.sessions {
		if match(s) {
			seen[s.ViewerKey()] = struct{}{}
		}
	}
	return len(seen)
}

func (m *MemoryStore) CountUnique(_ context.Context, streamID uuid.UUID) (int, error) {
	return m.countDistinct(func(s *models.ViewerSession) bool { return s.StreamID == streamID }), nil
}

func (m *MemoryStore) CountUniqueBetween(_ context.Context, streamID uuid.UUID, from, to time.Time) (int, error) {
	return m.countDistinct(func(s *models.ViewerSession) bool {
		return s.StreamID == streamID && s.JoinedAt.Before(to) && (s.LeftAt == nil || !s.LeftAt.Before(from))
	}), nil
}

func (m *MemoryStore) AddActivity(_ context.Context, sessionID string, chat, reactions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.active[sessionID]; ok {
		s.ChatCount += chat
		s.ReactionCount += reactions
	}
	return nil
}
