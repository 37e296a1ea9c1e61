package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/pkg/apperr"
)

// EventType enumerates what may travel on a stream topic.
type EventType string

const (
	EventChatMessage      EventType = "chat_message"
	EventMessageModerated EventType = "message_moderated"
	EventReactionAdded    EventType = "reaction_added"
	EventViewerJoined     EventType = "viewer_joined"
	EventViewerLeft       EventType = "viewer_left"
	EventStatusChanged    EventType = "status_changed"
)

// Valid reports whether t is one of the topic event types.
func (t EventType) Valid() bool {
	switch t {
	case EventChatMessage, EventMessageModerated, EventReactionAdded,
		EventViewerJoined, EventViewerLeft, EventStatusChanged:
		return true
	}
	return false
}

// Event is one message on a stream topic. Seq is assigned per stream by the
// hub on this instance and increases in publish order.
type Event struct {
	Type     EventType       `json:"type"`
	StreamID uuid.UUID       `json:"stream_id"`
	Seq      uint64          `json:"seq"`
	Data     json.RawMessage `json:"data,omitempty"`
	At       time.Time       `json:"at"`
}

// NewEvent builds an event with payload encoded as JSON.
func NewEvent(t EventType, payload interface{}) (Event, error) {
	if !t.Valid() {
		return Event{}, fmt.Errorf("%w: unknown event type %q", apperr.ErrInvalidInput, t)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Data: data, At: time.Now().UTC()}, nil
}

// ViewerCountPayload is carried by viewer_joined and viewer_left.
type ViewerCountPayload struct {
	SessionID   string     `json:"session_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	ViewerCount int        `json:"viewer_count"`
	PeakCount   int        `json:"peak_count"`
}

// StatusPayload is carried by status_changed.
type StatusPayload struct {
	Status string     `json:"status"`
	From   string     `json:"from,omitempty"`
	At     *time.Time `json:"at,omitempty"`
}

// ModerationPayload is carried by message_moderated.
type ModerationPayload struct {
	MessageID   uuid.UUID `json:"message_id"`
	ModeratedBy uuid.UUID `json:"moderated_by"`
	Reason      string    `json:"reason,omitempty"`
}
