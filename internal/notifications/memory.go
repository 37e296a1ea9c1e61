package notifications

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

type dedupKey struct {
	stream uuid.UUID
	kind   models.NotificationKind
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*models.StreamNotification
	byKind map[dedupKey]uuid.UUID
	order  []uuid.UUID
}

// NewMemoryStore creates an empty notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[uuid.UUID]*models.StreamNotification),
		byKind: make(map[dedupKey]uuid.UUID),
	}
}

func cloneNotification(n *models.StreamNotification) models.StreamNotification {
	c := *n
	c.Recipients = append([]string(nil), n.Recipients...)
	c.Channels = append([]models.Channel(nil), n.Channels...)
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	return c
}

func (m *MemoryStore) Create(_ context.Context, n *models.StreamNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dedupKey{n.StreamID, n.Kind}
	if _, ok := m.byKind[key]; ok {
		return fmt.Errorf("%w: %s notification exists for stream", apperr.ErrConflict, n.Kind)
	}
	c := cloneNotification(n)
	m.byID[c.ID] = &c
	m.byKind[key] = c.ID
	m.order = append(m.order, c.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.StreamNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: notification", apperr.ErrNotFound)
	}
	c := cloneNotification(n)
	return &c, nil
}

func (m *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: notification", apperr.ErrNotFound)
	}
	if n.SentAt != nil {
		return false, nil
	}
	n.SentAt = &at
	n.Attempts++
	n.LastError = ""
	return true, nil
}

func (m *MemoryStore) RecordFailure(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.byID[id]; ok && n.SentAt == nil {
		n.Attempts++
		n.LastError = reason
	}
	return nil
}

func (m *MemoryStore) ListUnsent(_ context.Context, dueBy time.Time, maxAttempts, limit int) ([]models.StreamNotification, error) {
	m.mu.RLock()
	var out []models.StreamNotification
	for _, id := range m.order {
		n := m.byID[id]
		if n.SentAt == nil && !n.ScheduledFor.After(dueBy) && n.Attempts < maxAttempts {
			out = append(out, cloneNotification(n))
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByStream(_ context.Context, streamID uuid.UUID) ([]models.StreamNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StreamNotification
	for _, id := range m.order {
		if n := m.byID[id]; n.StreamID == streamID {
			out = append(out, cloneNotification(n))
		}
	}
	return out, nil
}
