package models

import (
	"time"

	"github.com/google/uuid"
)

// HourlyAnalytics is the rollup row for one stream in one clock hour.
type HourlyAnalytics struct {
	StreamID          uuid.UUID `json:"stream_id"`
	HourBucket        time.Time `json:"hour_bucket"`
	UniqueViewers     int       `json:"unique_viewers"`
	ConcurrentViewers int       `json:"concurrent_viewers"`
	PeakConcurrent    int       `json:"peak_concurrent"`
	TotalWatchSeconds int64     `json:"total_watch_seconds"`
	AvgWatchSeconds   float64   `json:"avg_watch_seconds"`
	ChatCount         int       `json:"chat_count"`
	ReactionCount     int       `json:"reaction_count"`
	NewJoins          int       `json:"new_joins"`
	ViewerDrops       int       `json:"viewer_drops"`
	BufferingEvents   int       `json:"buffering_events"`
	ConnectionIssues  int       `json:"connection_issues"`
	QualityScore      *float64  `json:"quality_score,omitempty"`
	// SampledAt and QualitySampledAt timestamp the point-in-time values
	// currently held in ConcurrentViewers and QualityScore.
	SampledAt        *time.Time `json:"sampled_at,omitempty"`
	QualitySampledAt *time.Time `json:"quality_sampled_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
