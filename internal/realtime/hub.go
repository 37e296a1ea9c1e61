// Package realtime fans typed per-stream events out to subscribers on this
// instance and relays them to other instances through Redis.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/apperr"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
	// DefaultBufferSize is the per-subscriber queue length.
	DefaultBufferSize = 256
)

// Relay carries events between instances.
type Relay interface {
	Publish(ctx context.Context, streamID uuid.UUID, ev Event, origin string) error
	Subscribe(streamID uuid.UUID, handler func(ev Event, origin string)) (cancel func(), err error)
}

// Subscription is one consumer of a stream topic. Events arrive in publish
// order; a full buffer drops events for this subscriber only.
type Subscription struct {
	id       uint64
	streamID uuid.UUID
	ch       chan Event
	hub      *Hub
	once     sync.Once
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// StreamID returns the subscribed stream.
func (s *Subscription) StreamID() uuid.UUID { return s.streamID }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

type topic struct {
	mu          sync.Mutex
	seq         uint64
	subs        map[uint64]*Subscription
	relayed     bool
	relayCancel func()
}

// Hub maintains stream topics and their subscribers.
type Hub struct {
	mu     sync.Mutex
	topics map[uuid.UUID]*topic
	nextID uint64

	relay      Relay
	origin     string
	bufferSize int
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewHub creates a hub. relay may be nil for a single instance.
func NewHub(relay Relay, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics:     make(map[uuid.UUID]*topic),
		relay:      relay,
		origin:     uuid.NewString(),
		bufferSize: DefaultBufferSize,
		metrics:    m,
		logger:     logger,
	}
}

// SetBufferSize sets the queue length for subscriptions created afterwards.
func (h *Hub) SetBufferSize(n int) {
	if n > 0 {
		h.bufferSize = n
	}
}

// Publish delivers ev to every current subscriber of the stream, then relays
// it to other instances. Relay failures are logged, not returned.
func (h *Hub) Publish(ctx context.Context, streamID uuid.UUID, ev Event) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", apperr.ErrInvalidInput, ev.Type)
	}
	ev.StreamID = streamID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.deliverLocal(streamID, ev)
	h.metrics.IncFanoutPublished(string(ev.Type))

	if h.relay != nil {
		if err := h.relay.Publish(ctx, streamID, ev, h.origin); err != nil {
			h.logger.Warn("relay publish failed",
				zap.String("stream_id", streamID.String()),
				zap.String("event", string(ev.Type)),
				zap.Error(err))
		}
	}
	return nil
}

// PublishPayload encodes payload and publishes it as an event of type t.
func (h *Hub) PublishPayload(ctx context.Context, streamID uuid.UUID, t EventType, payload interface{}) error {
	ev, err := NewEvent(t, payload)
	if err != nil {
		return err
	}
	return h.Publish(ctx, streamID, ev)
}

// Subscribe opens a subscription on the stream topic. Only events published
// after this call are delivered.
func (h *Hub) Subscribe(streamID uuid.UUID) *Subscription {
	h.mu.Lock()
	t, ok := h.topics[streamID]
	if !ok {
		t = &topic{subs: make(map[uint64]*Subscription)}
		h.topics[streamID] = t
	}
	h.nextID++
	sub := &Subscription{id: h.nextID, streamID: streamID, ch: make(chan Event, h.bufferSize), hub: h}
	t.mu.Lock()
	t.subs[sub.id] = sub
	startRelay := h.relay != nil && !t.relayed
	t.relayed = true
	t.mu.Unlock()
	h.mu.Unlock()

	if startRelay {
		h.startRelay(streamID, t)
	}
	h.logger.Debug("subscriber added", zap.String("stream_id", streamID.String()), zap.Uint64("subscription", sub.id))
	return sub
}

// Subscribers returns the number of local subscribers of a stream.
func (h *Hub) Subscribers(streamID uuid.UUID) int {
	h.mu.Lock()
	t := h.topics[streamID]
	h.mu.Unlock()
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// HandleStreamChange publishes status_changed for lifecycle transitions.
func (h *Hub) HandleStreamChange(ctx context.Context, ch streams.Change) error {
	if ch.Event == streams.EventCreated {
		return nil
	}
	p := StatusPayload{Status: string(ch.Stream.Status), From: string(ch.From)}
	switch ch.Stream.Status {
	case models.StreamStatusLive:
		p.At = ch.Stream.StartedAt
	case models.StreamStatusEnded:
		p.At = ch.Stream.EndedAt
	}
	return h.PublishPayload(ctx, ch.Stream.ID, EventStatusChanged, p)
}

func (h *Hub) startRelay(streamID uuid.UUID, t *topic) {
	cancel, err := h.relay.Subscribe(streamID, func(ev Event, origin string) {
		if origin == h.origin {
			return
		}
		h.deliverLocal(streamID, ev)
	})
	if err != nil {
		h.logger.Warn("relay subscribe failed", zap.String("stream_id", streamID.String()), zap.Error(err))
		t.mu.Lock()
		t.relayed = false
		t.mu.Unlock()
		return
	}
	h.mu.Lock()
	current := h.topics[streamID]
	h.mu.Unlock()
	if current != t {
		cancel()
		return
	}
	t.mu.Lock()
	t.relayCancel = cancel
	t.mu.Unlock()
}

func (h *Hub) deliverLocal(streamID uuid.UUID, ev Event) {
	h.mu.Lock()
	t := h.topics[streamID]
	h.mu.Unlock()
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	ev.Seq = t.seq
	for _, sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			h.metrics.IncFanoutDropped(string(ev.Type))
			h.logger.Debug("subscriber buffer full, event dropped",
				zap.String("stream_id", streamID.String()),
				zap.Uint64("subscription", sub.id),
				zap.Uint64("seq", ev.Seq))
		}
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	var cancel func()
	h.mu.Lock()
	t := h.topics[sub.streamID]
	if t != nil {
		t.mu.Lock()
		delete(t.subs, sub.id)
		close(sub.ch)
		if len(t.subs) == 0 {
			delete(h.topics, sub.streamID)
			cancel = t.relayCancel
			t.relayCancel = nil
		}
		t.mu.Unlock()
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.logger.Debug("subscriber removed", zap.String("stream_id", sub.streamID.String()), zap.Uint64("subscription", sub.id))
}
