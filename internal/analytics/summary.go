package analytics

import "github.com/aura-webinar/livestream/internal/models"

// Summary is a whole-stream view derived from hourly rows.
type Summary struct {
	Hours              int     `json:"hours"`
	TotalUniqueViewers int     `json:"total_unique_viewers"`
	PeakConcurrent     int     `json:"peak_concurrent"`
	TotalJoins         int     `json:"total_joins"`
	TotalWatchSeconds  int64   `json:"total_watch_seconds"`
	AvgWatchSeconds    float64 `json:"avg_watch_seconds"`
	ChatCount          int     `json:"chat_count"`
	ReactionCount      int     `json:"reaction_count"`
	BufferingEvents    int     `json:"buffering_events"`
	ConnectionIssues   int     `json:"connection_issues"`
	// EngagementScore is chat messages plus reactions per unique viewer.
	EngagementScore float64 `json:"engagement_score"`
}

// Summarize folds hourly rows into a Summary. Hourly unique counts cannot be
// summed across hours, so the stream-wide distinct viewer count is passed in.
func Summarize(rows []models.HourlyAnalytics, uniqueViewers int) Summary {
	s := Summary{Hours: len(rows), TotalUniqueViewers: uniqueViewers}
	drops := 0
	for _, r := range rows {
		if r.PeakConcurrent > s.PeakConcurrent {
			s.PeakConcurrent = r.PeakConcurrent
		}
		s.TotalJoins += r.NewJoins
		s.TotalWatchSeconds += r.TotalWatchSeconds
		s.ChatCount += r.ChatCount
		s.ReactionCount += r.ReactionCount
		s.BufferingEvents += r.BufferingEvents
		s.ConnectionIssues += r.ConnectionIssues
		drops += r.ViewerDrops
	}
	s.AvgWatchSeconds = avgWatch(s.TotalWatchSeconds, drops)
	if uniqueViewers > 0 {
		s.EngagementScore = float64(s.ChatCount+s.ReactionCount) / float64(uniqueViewers)
	}
	return s
}
