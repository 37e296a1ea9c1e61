package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livestream/internal/models"
)

const rowColumns = `stream_id, hour_bucket, unique_viewers, concurrent_viewers, peak_concurrent, total_watch_seconds,
	chat_count, reaction_count, new_joins, viewer_drops, buffering_events, connection_issues,
	quality_score, sampled_at, quality_sampled_at, updated_at`

// upsertSQL mirrors Merge: additive counters, GREATEST for peak and unique,
// latest sample wins (ties keep the larger value) for concurrent viewers and quality.
const upsertSQL = `INSERT INTO stream_hourly_analytics AS t (
		stream_id, hour_bucket, unique_viewers, concurrent_viewers, peak_concurrent, total_watch_seconds,
		chat_count, reaction_count, new_joins, viewer_drops, buffering_events, connection_issues,
		quality_score, sampled_at, quality_sampled_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
	ON CONFLICT (stream_id, hour_bucket) DO UPDATE SET
		unique_viewers = GREATEST(t.unique_viewers, EXCLUDED.unique_viewers),
		peak_concurrent = GREATEST(t.peak_concurrent, EXCLUDED.peak_concurrent),
		total_watch_seconds = t.total_watch_seconds + EXCLUDED.total_watch_seconds,
		chat_count = t.chat_count + EXCLUDED.chat_count,
		reaction_count = t.reaction_count + EXCLUDED.reaction_count,
		new_joins = t.new_joins + EXCLUDED.new_joins,
		viewer_drops = t.viewer_drops + EXCLUDED.viewer_drops,
		buffering_events = t.buffering_events + EXCLUDED.buffering_events,
		connection_issues = t.connection_issues + EXCLUDED.connection_issues,
		concurrent_viewers = CASE
			WHEN EXCLUDED.sampled_at IS NULL THEN t.concurrent_viewers
			WHEN t.sampled_at IS NULL OR EXCLUDED.sampled_at > t.sampled_at THEN EXCLUDED.concurrent_viewers
			WHEN EXCLUDED.sampled_at = t.sampled_at THEN GREATEST(t.concurrent_viewers, EXCLUDED.concurrent_viewers)
			ELSE t.concurrent_viewers END,
		sampled_at = GREATEST(t.sampled_at, EXCLUDED.sampled_at),
		quality_score = CASE
			WHEN EXCLUDED.quality_sampled_at IS NULL THEN t.quality_score
			WHEN t.quality_sampled_at IS NULL OR EXCLUDED.quality_sampled_at > t.quality_sampled_at THEN EXCLUDED.quality_score
			WHEN EXCLUDED.quality_sampled_at = t.quality_sampled_at THEN GREATEST(t.quality_score, EXCLUDED.quality_score)
			ELSE t.quality_score END,
		quality_sampled_at = GREATEST(t.quality_sampled_at, EXCLUDED.quality_sampled_at),
		updated_at = NOW()
	RETURNING ` + rowColumns

// PostgresStore persists hourly rows in stream_hourly_analytics.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates an analytics store backed by PostgreSQL.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanRow(row pgx.Row) (*models.HourlyAnalytics, error) {
	var r models.HourlyAnalytics
	err := row.Scan(&r.StreamID, &r.HourBucket, &r.UniqueViewers, &r.ConcurrentViewers, &r.PeakConcurrent,
		&r.TotalWatchSeconds, &r.ChatCount, &r.ReactionCount, &r.NewJoins, &r.ViewerDrops, &r.BufferingEvents,
		&r.ConnectionIssues, &r.QualityScore, &r.SampledAt, &r.QualitySampledAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.AvgWatchSeconds = avgWatch(r.TotalWatchSeconds, r.ViewerDrops)
	return &r, nil
}

// Upsert merges d into its hourly row in one statement.
func (p *PostgresStore) Upsert(ctx context.Context, streamID uuid.UUID, d Delta) (*models.HourlyAnalytics, error) {
	at := d.At.UTC()
	var (
		concurrent int
		sampledAt  *time.Time
		qualityAt  *time.Time
	)
	if d.ConcurrentViewers != nil {
		concurrent = *d.ConcurrentViewers
		sampledAt = &at
	}
	if d.QualityScore != nil {
		qualityAt = &at
	}
	return scanRow(p.pool.QueryRow(ctx, upsertSQL,
		streamID, HourBucket(at), d.UniqueViewers, concurrent, d.peak(), d.WatchSeconds,
		d.ChatCount, d.ReactionCount, d.NewJoins, d.ViewerDrops, d.BufferingEvents, d.ConnectionIssues,
		d.QualityScore, sampledAt, qualityAt))
}

// List returns the stream's rows by hour ascending.
func (p *PostgresStore) List(ctx context.Context, streamID uuid.UUID) ([]models.HourlyAnalytics, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+rowColumns+` FROM stream_hourly_analytics WHERE stream_id = $1 ORDER BY hour_bucket ASC`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.HourlyAnalytics
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *r)
	}
	return list, rows.Err()
}
