package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamStatus is the lifecycle state of a broadcast.
type StreamStatus string

const (
	StreamStatusScheduled StreamStatus = "scheduled"
	StreamStatusLive      StreamStatus = "live"
	StreamStatusEnded     StreamStatus = "ended"
	StreamStatusCancelled StreamStatus = "cancelled"
)

// Terminal reports whether no further lifecycle events are accepted.
func (s StreamStatus) Terminal() bool {
	return s == StreamStatusEnded || s == StreamStatusCancelled
}

// Category classifies a broadcast. Emergency streams bypass reminder lead times.
type Category string

const (
	CategoryMeeting      Category = "meeting"
	CategoryEmergency    Category = "emergency"
	CategoryEvent        Category = "event"
	CategoryAnnouncement Category = "announcement"
	CategoryEducation    Category = "education"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryMeeting, CategoryEmergency, CategoryEvent, CategoryAnnouncement, CategoryEducation:
		return true
	}
	return false
}

// Visibility controls who may discover a stream.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Stream is a scheduled or ongoing broadcast.
type Stream struct {
	ID               uuid.UUID    `json:"id"`
	Title            string       `json:"title"`
	Description      string       `json:"description,omitempty"`
	IngestKey        string       `json:"-"`
	Category         Category     `json:"category"`
	Visibility       Visibility   `json:"visibility"`
	Status           StreamStatus `json:"status"`
	RecordingEnabled bool         `json:"recording_enabled"`
	ScheduledAt      *time.Time   `json:"scheduled_at,omitempty"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	EndedAt          *time.Time   `json:"ended_at,omitempty"`
	LiveViewerCount  int          `json:"live_viewer_count"`
	PeakViewerCount  int          `json:"peak_viewer_count"`
	FinalViewerCount *int         `json:"final_viewer_count,omitempty"`
	RecordingURL     string       `json:"recording_url,omitempty"`
	OwnerID          uuid.UUID    `json:"owner_id"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// VisibleTo reports whether a caller may see the stream. Private streams are
// limited to their owner and admins; userID is nil for anonymous callers.
func (s *Stream) VisibleTo(userID *uuid.UUID, admin bool) bool {
	if s.Visibility != VisibilityPrivate || admin {
		return true
	}
	return userID != nil && *userID == s.OwnerID
}

// IsEmergency reports whether the stream belongs to the emergency category.
func (s *Stream) IsEmergency() bool {
	return s.Category == CategoryEmergency
}
