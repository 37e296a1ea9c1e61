package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewerMetadata is the network/device detail a client reports on join.
type ViewerMetadata struct {
	IPAddress      string `json:"ip_address,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	DeviceType     string `json:"device_type,omitempty"`
	ConnectionType string `json:"connection_type,omitempty"`
}

// ViewerSession is one viewer's presence window on one stream.
// A session is active while LeftAt is nil.
type ViewerSession struct {
	ID            uuid.UUID      `json:"id"`
	SessionID     string         `json:"session_id"`
	StreamID      uuid.UUID      `json:"stream_id"`
	UserID        *uuid.UUID     `json:"user_id,omitempty"`
	JoinedAt      time.Time      `json:"joined_at"`
	LeftAt        *time.Time     `json:"left_at,omitempty"`
	LastSeenAt    time.Time      `json:"last_seen_at"`
	Metadata      ViewerMetadata `json:"metadata"`
	ChatCount     int            `json:"chat_count"`
	ReactionCount int            `json:"reaction_count"`
}

// Active reports whether the viewer has not left yet.
func (v *ViewerSession) Active() bool {
	return v.LeftAt == nil
}

// WatchSeconds is the whole-second span between join and leave, 0 while active.
func (v *ViewerSession) WatchSeconds() int64 {
	if v.LeftAt == nil {
		return 0
	}
	d := v.LeftAt.Sub(v.JoinedAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// ViewerKey is the identity used for unique-viewer counting: the user id when
// authenticated, the session id otherwise.
func (v *ViewerSession) ViewerKey() string {
	if v.UserID != nil {
		return "user:" + v.UserID.String()
	}
	return "session:" + v.SessionID
}
