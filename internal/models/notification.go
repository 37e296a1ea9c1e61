package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind is the lifecycle moment a notification announces.
type NotificationKind string

const (
	NotificationScheduled NotificationKind = "scheduled"
	NotificationStarting  NotificationKind = "starting"
	NotificationLive      NotificationKind = "live"
	NotificationEnded     NotificationKind = "ended"
	NotificationEmergency NotificationKind = "emergency"
)

// RecipientScope selects who receives a notification.
type RecipientScope string

const (
	RecipientsAll      RecipientScope = "all"
	RecipientsSpecific RecipientScope = "specific"
	RecipientsRole     RecipientScope = "role"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// AllChannels lists every delivery medium.
var AllChannels = []Channel{ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp}

// Priority orders notifications for the delivery channel.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// StreamNotification is an outbound lifecycle message. SentAt is set exactly once.
type StreamNotification struct {
	ID           uuid.UUID        `json:"id"`
	StreamID     uuid.UUID        `json:"stream_id"`
	Kind         NotificationKind `json:"kind"`
	Title        string           `json:"title"`
	Body         string           `json:"body"`
	Scope        RecipientScope   `json:"recipient_scope"`
	Recipients   []string         `json:"recipients,omitempty"`
	Channels     []Channel        `json:"channels"`
	Priority     Priority         `json:"priority"`
	ScheduledFor time.Time        `json:"scheduled_for"`
	SentAt       *time.Time       `json:"sent_at,omitempty"`
	Attempts     int              `json:"attempts"`
	LastError    string           `json:"last_error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Sent reports whether the notification has been handed to the delivery channel.
func (n *StreamNotification) Sent() bool {
	return n.SentAt != nil
}
