package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/apperr"
)

// MemoryStore is an in-process Store. Messages keep insertion order.
type MemoryStore struct {
	mu        sync.RWMutex
	streams   StreamReader
	messages  []*models.ChatMessage
	byID      map[uuid.UUID]*models.ChatMessage
	reactions []models.Reaction
}

// NewMemoryStore creates an empty chat store that reads stream status from
// streams. A nil reader disables the live check.
func NewMemoryStore(streams StreamReader) *MemoryStore {
	return &MemoryStore{streams: streams, byID: make(map[uuid.UUID]*models.ChatMessage)}
}

func (s *MemoryStore) requireLive(ctx context.Context, streamID uuid.UUID) error {
	if s.streams == nil {
		return nil
	}
	st, err := s.streams.Get(ctx, streamID)
	if err != nil {
		return err
	}
	if st.Status != models.StreamStatusLive {
		return fmt.Errorf("%w: stream is %s", apperr.ErrNotLive, st.Status)
	}
	return nil
}

// guardInsert runs insert between two status checks and undoes it if the
// stream left Live in the meantime.
func (s *MemoryStore) guardInsert(ctx context.Context, streamID uuid.UUID, insert func() error, undo func()) error {
	if err := s.requireLive(ctx, streamID); err != nil {
		return err
	}
	if err := insert(); err != nil {
		return err
	}
	if err := s.requireLive(ctx, streamID); err != nil {
		undo()
		return err
	}
	return nil
}

func cloneMessage(m *models.ChatMessage) *models.ChatMessage {
	c := *m
	if m.ModeratedAt != nil {
		t := *m.ModeratedAt
		c.ModeratedAt = &t
	}
	return &c
}

func (s *MemoryStore) InsertMessage(ctx context.Context, m *models.ChatMessage) error {
	return s.guardInsert(ctx, m.StreamID, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.byID[m.ID]; ok {
			return fmt.Errorf("%w: chat message id", apperr.ErrConflict)
		}
		c := cloneMessage(m)
		s.messages = append(s.messages, c)
		s.byID[c.ID] = c
		return nil
	}, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.byID, m.ID)
		for i := len(s.messages) - 1; i >= 0; i-- {
			if s.messages[i].ID == m.ID {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				break
			}
		}
	})
}

func (s *MemoryStore) GetMessage(_ context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: chat message", apperr.ErrNotFound)
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) Moderate(_ context.Context, id, by uuid.UUID, reason string, at time.Time) (*models.ChatMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: chat message", apperr.ErrNotFound)
	}
	if m.IsModerated {
		return cloneMessage(m), false, nil
	}
	m.IsModerated = true
	m.ModeratedBy = &by
	m.ModReason = reason
	m.ModeratedAt = &at
	return cloneMessage(m), true, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, streamID uuid.UUID, limit int, includeModerated bool) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatMessage
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if m.StreamID != streamID || (m.IsModerated && !includeModerated) {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *MemoryStore) InsertReaction(ctx context.Context, r *models.Reaction) error {
	return s.guardInsert(ctx, r.StreamID, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reactions = append(s.reactions, *r)
		return nil
	}, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := len(s.reactions) - 1; i >= 0; i-- {
			if s.reactions[i].ID == r.ID {
				s.reactions = append(s.reactions[:i], s.reactions[i+1:]...)
				break
			}
		}
	})
}

func (s *MemoryStore) ReactionCounts(_ context.Context, streamID uuid.UUID) (map[models.ReactionType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.ReactionType]int)
	for _, r := range s.reactions {
		if r.StreamID == streamID {
			counts[r.Type]++
		}
	}
	return counts, nil
}
