package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the kind of chat entry.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeEmoji    MessageType = "emoji"
	MessageTypeReaction MessageType = "reaction"
	MessageTypeSystem   MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeEmoji, MessageTypeReaction, MessageTypeSystem:
		return true
	}
	return false
}

// ChatMessage is a message posted on a live stream.
type ChatMessage struct {
	ID          uuid.UUID   `json:"id"`
	StreamID    uuid.UUID   `json:"stream_id"`
	UserID      *uuid.UUID  `json:"user_id,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`
	Body        string      `json:"body"`
	Type        MessageType `json:"type"`
	ReplyTo     *uuid.UUID  `json:"reply_to,omitempty"`
	IsModerated bool        `json:"is_moderated"`
	ModeratedBy *uuid.UUID  `json:"moderated_by,omitempty"`
	ModReason   string      `json:"moderation_reason,omitempty"`
	ModeratedAt *time.Time  `json:"moderated_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ReactionType is the signal carried by a reaction.
type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionLaugh ReactionType = "laugh"
	ReactionWow   ReactionType = "wow"
	ReactionSad   ReactionType = "sad"
	ReactionClap  ReactionType = "clap"
)

// Valid reports whether r is a known reaction.
func (r ReactionType) Valid() bool {
	switch r {
	case ReactionLike, ReactionLove, ReactionLaugh, ReactionWow, ReactionSad, ReactionClap:
		return true
	}
	return false
}

// Reaction is an append-only signal on a stream, optionally pinned to a playback offset.
type Reaction struct {
	ID            uuid.UUID    `json:"id"`
	StreamID      uuid.UUID    `json:"stream_id"`
	UserID        *uuid.UUID   `json:"user_id,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
	Type          ReactionType `json:"type"`
	OffsetSeconds *int         `json:"offset_seconds,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}
