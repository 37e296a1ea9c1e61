package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/apperr"
	"github.com/aura-webinar/livestream/pkg/database"
)

const streamColumns = `id, title, description, ingest_key, category, visibility, status, recording_enabled,
	scheduled_at, started_at, ended_at, live_viewer_count, peak_viewer_count, final_viewer_count,
	recording_url, owner_id, created_at, updated_at`

// PostgresStore handles streams persistence.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a streams store backed by PostgreSQL.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanStream(row pgx.Row) (*models.Stream, error) {
	var s models.Stream
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.IngestKey, &s.Category, &s.Visibility, &s.Status,
		&s.RecordingEnabled, &s.ScheduledAt, &s.StartedAt, &s.EndedAt, &s.LiveViewerCount, &s.PeakViewerCount,
		&s.FinalViewerCount, &s.RecordingURL, &s.OwnerID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new stream and fills its generated columns.
func (p *PostgresStore) Create(ctx context.Context, s *models.Stream) error {
	q := `INSERT INTO streams (id, title, description, ingest_key, category, visibility, status, recording_enabled, scheduled_at, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING ` + streamColumns
	row := p.pool.QueryRow(ctx, q, s.ID, s.Title, s.Description, s.IngestKey, s.Category, s.Visibility, s.Status,
		s.RecordingEnabled, s.ScheduledAt, s.OwnerID, s.CreatedAt)
	created, err := scanStream(row)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: stream", apperr.ErrConflict)
		}
		return err
	}
	*s = *created
	return nil
}

// Get returns a stream by id.
func (p *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	s, err := scanStream(p.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id))
	return s, notFound(err)
}

// GetByIngestKey returns the stream owning key.
func (p *PostgresStore) GetByIngestKey(ctx context.Context, key string) (*models.Stream, error) {
	s, err := scanStream(p.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE ingest_key = $1`, key))
	return s, notFound(err)
}

// List returns a page of streams matching f and the total match count.
func (p *PostgresStore) List(ctx context.Context, f Filter) ([]models.Stream, int, error) {
	f = f.normalized()
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Visibility != "" {
		add("visibility = $%d", f.Visibility)
	}
	if f.OwnerID != nil {
		add("owner_id = $%d", *f.OwnerID)
	}
	if f.PublicOrOwner != nil {
		add("(visibility = 'public' OR owner_id = $%d)", *f.PublicOrOwner)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM streams`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.PageSize, f.offset())
	q := fmt.Sprintf(`SELECT %s FROM streams%s ORDER BY COALESCE(scheduled_at, created_at) DESC, id LIMIT $%d OFFSET $%d`,
		streamColumns, clause, len(args)-1, len(args))
	list, err := p.query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// UpdateDetails applies editable fields while the stream is Scheduled.
func (p *PostgresStore) UpdateDetails(ctx context.Context, id uuid.UUID, in UpdateInput, at time.Time) (*models.Stream, error) {
	q := `UPDATE streams SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			category = COALESCE($4, category),
			visibility = COALESCE($5, visibility),
			recording_enabled = COALESCE($6, recording_enabled),
			scheduled_at = COALESCE($7, scheduled_at),
			updated_at = $8
		WHERE id = $1 AND status = 'scheduled'
		RETURNING ` + streamColumns
	s, err := scanStream(p.pool.QueryRow(ctx, q, id, in.Title, in.Description, in.Category, in.Visibility,
		in.RecordingEnabled, in.ScheduledAt, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotEditable
	}
	return s, err
}

// CompareAndSetStatus moves the stream from -> to with the lifecycle side effects.
func (p *PostgresStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.StreamStatus, ch StatusChange) (*models.Stream, error) {
	var q string
	args := []interface{}{id, from, to, ch.At}
	switch to {
	case models.StreamStatusLive:
		q = `UPDATE streams SET status = $3, started_at = $4, live_viewer_count = 0, peak_viewer_count = 0, updated_at = $4
			WHERE id = $1 AND status = $2 RETURNING ` + streamColumns
	case models.StreamStatusEnded:
		q = `UPDATE streams SET status = $3, ended_at = $4, final_viewer_count = $5, live_viewer_count = 0, updated_at = $4
			WHERE id = $1 AND status = $2 AND ended_at IS NULL RETURNING ` + streamColumns
		args = append(args, ch.FinalViewerCount)
	default:
		q = `UPDATE streams SET status = $3, updated_at = $4
			WHERE id = $1 AND status = $2 RETURNING ` + streamColumns
	}
	s, err := scanStream(p.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: stream is no longer %s", apperr.ErrInvalidTransition, from)
	}
	return s, err
}

// AttachRecording sets recording_url while the stream is Live or Ended.
func (p *PostgresStore) AttachRecording(ctx context.Context, id uuid.UUID, url string, at time.Time) (*models.Stream, error) {
	q := `UPDATE streams SET recording_url = $2, updated_at = $3
		WHERE id = $1 AND status IN ('live', 'ended') RETURNING ` + streamColumns
	s, err := scanStream(p.pool.QueryRow(ctx, q, id, url, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotEditable
	}
	return s, err
}

// UpdateViewerCounts writes live count and raises peak if greater, only while Live.
func (p *PostgresStore) UpdateViewerCounts(ctx context.Context, id uuid.UUID, live, peak int, at time.Time) error {
	const q = `UPDATE streams SET live_viewer_count = $2, peak_viewer_count = GREATEST(peak_viewer_count, $3), updated_at = $4
		WHERE id = $1 AND status = 'live'`
	_, err := p.pool.Exec(ctx, q, id, live, peak, at)
	return err
}

// ListScheduledBefore returns Scheduled streams due at or before t.
func (p *PostgresStore) ListScheduledBefore(ctx context.Context, t time.Time) ([]models.Stream, error) {
	return p.query(ctx, `SELECT `+streamColumns+` FROM streams
		WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		ORDER BY scheduled_at`, t)
}

// ListLive returns every Live stream.
func (p *PostgresStore) ListLive(ctx context.Context) ([]models.Stream, error) {
	return p.query(ctx, `SELECT `+streamColumns+` FROM streams WHERE status = 'live' ORDER BY started_at`)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...interface{}) ([]models.Stream, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: stream", apperr.ErrNotFound)
	}
	return err
}
