// Package analytics folds viewer, chat and quality events into one rollup
// row per stream and clock hour.
package analytics

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/apperr"
)

// Delta is one contribution to an hourly row. Counts are added, peak and
// unique viewers keep the maximum, and the point-in-time samples keep the
// latest by At.
type Delta struct {
	At time.Time

	ConcurrentViewers *int
	PeakConcurrent    int
	UniqueViewers     int

	NewJoins         int
	ViewerDrops      int
	ChatCount        int
	ReactionCount    int
	WatchSeconds     int64
	BufferingEvents  int
	ConnectionIssues int

	QualityScore *float64
}

// HourBucket truncates t to the start of its UTC hour.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Validate rejects deltas that would corrupt a row.
func (d Delta) Validate() error {
	if d.At.IsZero() {
		return fmt.Errorf("%w: delta timestamp required", apperr.ErrInvalidInput)
	}
	if d.NewJoins < 0 || d.ViewerDrops < 0 || d.ChatCount < 0 || d.ReactionCount < 0 ||
		d.WatchSeconds < 0 || d.BufferingEvents < 0 || d.ConnectionIssues < 0 ||
		d.PeakConcurrent < 0 || d.UniqueViewers < 0 {
		return fmt.Errorf("%w: negative delta field", apperr.ErrInvalidInput)
	}
	if d.ConcurrentViewers != nil && *d.ConcurrentViewers < 0 {
		return fmt.Errorf("%w: negative concurrent viewers", apperr.ErrInvalidInput)
	}
	return nil
}

// peak is the peak implied by the delta alone.
func (d Delta) peak() int {
	p := d.PeakConcurrent
	if d.ConcurrentViewers != nil && *d.ConcurrentViewers > p {
		p = *d.ConcurrentViewers
	}
	return p
}

// NewRow builds the row a first delta creates.
func NewRow(streamID uuid.UUID, d Delta) models.HourlyAnalytics {
	row := models.HourlyAnalytics{StreamID: streamID, HourBucket: HourBucket(d.At)}
	Merge(&row, d)
	return row
}

// Merge folds d into row. Merge is commutative: any order of the same deltas
// yields the same row.
func Merge(row *models.HourlyAnalytics, d Delta) {
	row.NewJoins += d.NewJoins
	row.ViewerDrops += d.ViewerDrops
	row.ChatCount += d.ChatCount
	row.ReactionCount += d.ReactionCount
	row.TotalWatchSeconds += d.WatchSeconds
	row.BufferingEvents += d.BufferingEvents
	row.ConnectionIssues += d.ConnectionIssues

	if p := d.peak(); p > row.PeakConcurrent {
		row.PeakConcurrent = p
	}
	if d.UniqueViewers > row.UniqueViewers {
		row.UniqueViewers = d.UniqueViewers
	}

	at := d.At.UTC()
	if d.ConcurrentViewers != nil {
		switch {
		case row.SampledAt == nil || at.After(*row.SampledAt):
			row.ConcurrentViewers = *d.ConcurrentViewers
			row.SampledAt = &at
		case at.Equal(*row.SampledAt) && *d.ConcurrentViewers > row.ConcurrentViewers:
			row.ConcurrentViewers = *d.ConcurrentViewers
		}
	}
	if d.QualityScore != nil {
		q := *d.QualityScore
		switch {
		case row.QualitySampledAt == nil || at.After(*row.QualitySampledAt):
			row.QualityScore = &q
			row.QualitySampledAt = &at
		case at.Equal(*row.QualitySampledAt) && (row.QualityScore == nil || q > *row.QualityScore):
			row.QualityScore = &q
		}
	}
	row.AvgWatchSeconds = avgWatch(row.TotalWatchSeconds, row.ViewerDrops)
}

// avgWatch is the mean watch time of sessions that ended in the hour.
func avgWatch(total int64, drops int) float64 {
	if drops <= 0 {
		return 0
	}
	return float64(total) / float64(drops)
}
