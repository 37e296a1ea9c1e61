package streams

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
)

// errNotEditable is returned by a store when a guarded write finds the stream
// in a status that does not allow it. The registry re-reads to classify.
var errNotEditable = errors.New("stream not in an editable status")

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	Status     models.StreamStatus
	Category   models.Category
	Visibility models.Visibility
	OwnerID    *uuid.UUID
	// PublicOrOwner limits results to public streams plus those owned by this user.
	PublicOrOwner *uuid.UUID
	Page          int
	PageSize      int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.PageSize
}

// UpdateInput carries editable fields; nil means unchanged.
type UpdateInput struct {
	Title            *string            `json:"title"`
	Description      *string            `json:"description"`
	Category         *models.Category   `json:"category"`
	Visibility       *models.Visibility `json:"visibility"`
	RecordingEnabled *bool              `json:"recording_enabled"`
	ScheduledAt      *time.Time         `json:"scheduled_at"`
}

// StatusChange carries the side-effect columns written with a status change.
type StatusChange struct {
	At               time.Time
	FinalViewerCount *int
}

// Store persists streams. Writes that depend on status are compare-and-set.
type Store interface {
	Create(ctx context.Context, s *models.Stream) error
	Get(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	GetByIngestKey(ctx context.Context, key string) (*models.Stream, error)
	List(ctx context.Context, f Filter) ([]models.Stream, int, error)
	// UpdateDetails applies in only while the stream is Scheduled.
	UpdateDetails(ctx context.Context, id uuid.UUID, in UpdateInput, at time.Time) (*models.Stream, error)
	// CompareAndSetStatus moves the stream from -> to. It returns
	// apperr.ErrInvalidTransition when the stored status is not from.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.StreamStatus, ch StatusChange) (*models.Stream, error)
	// AttachRecording sets the recording URL while Live or Ended.
	AttachRecording(ctx context.Context, id uuid.UUID, url string, at time.Time) (*models.Stream, error)
	// UpdateViewerCounts writes the live count and raises the peak, only while Live.
	UpdateViewerCounts(ctx context.Context, id uuid.UUID, live, peak int, at time.Time) error
	// ListScheduledBefore returns Scheduled streams whose scheduled_at is at or before t.
	ListScheduledBefore(ctx context.Context, t time.Time) ([]models.Stream, error)
	// ListLive returns every Live stream.
	ListLive(ctx context.Context) ([]models.Stream, error)
}
