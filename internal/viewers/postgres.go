package viewers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/apperr"
	"github.com/aura-webinar/livestream/pkg/database"
)

const sessionColumns = `id, session_id, stream_id, user_id, joined_at, left_at, last_seen_at,
	ip_address, user_agent, device_type, connection_type, chat_count, reaction_count`

// PostgresStore implements Store on the viewer_sessions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a viewer session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanSession(row pgx.Row) (*models.ViewerSession, error) {
	var s models.ViewerSession
	err := row.Scan(&s.ID, &s.SessionID, &s.StreamID, &s.UserID, &s.JoinedAt, &s.LeftAt, &s.LastSeenAt,
		&s.Metadata.IPAddress, &s.Metadata.UserAgent, &s.Metadata.DeviceType, &s.Metadata.ConnectionType,
		&s.ChatCount, &s.ReactionCount)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: viewer session", apperr.ErrNotFound)
	}
	return err
}

// Insert stores a new active session.
func (p *PostgresStore) Insert(ctx context.Context, s *models.ViewerSession) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO viewer_sessions (id, session_id, stream_id, user_id, joined_at, last_seen_at,
			ip_address, user_agent, device_type, connection_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.SessionID, s.StreamID, s.UserID, s.JoinedAt, s.LastSeenAt,
		s.Metadata.IPAddress, s.Metadata.UserAgent, s.Metadata.DeviceType, s.Metadata.ConnectionType)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: session %s already active", apperr.ErrConflict, s.SessionID)
	}
	return err
}

// GetActive returns the open session for sessionID.
func (p *PostgresStore) GetActive(ctx context.Context, sessionID string) (*models.ViewerSession, error) {
	s, err := scanSession(p.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM viewer_sessions WHERE session_id = $1 AND left_at IS NULL`, sessionID))
	return s, notFound(err)
}

// GetLatest returns the most recently joined session for sessionID, open or not.
func (p *PostgresStore) GetLatest(ctx context.Context, sessionID string) (*models.ViewerSession, error) {
	s, err := scanSession(p.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM viewer_sessions WHERE session_id = $1 ORDER BY joined_at DESC LIMIT 1`, sessionID))
	return s, notFound(err)
}

// Close ends the open session at leftAt, clamped to joined_at.
func (p *PostgresStore) Close(ctx context.Context, sessionID string, leftAt time.Time) (*models.ViewerSession, error) {
	s, err := scanSession(p.pool.QueryRow(ctx,
		`UPDATE viewer_sessions
		 SET left_at = GREATEST($2::timestamptz, joined_at),
		     watch_seconds = FLOOR(EXTRACT(EPOCH FROM (GREATEST($2::timestamptz, joined_at) - joined_at)))::BIGINT
		 WHERE session_id = $1 AND left_at IS NULL
		 RETURNING `+sessionColumns, sessionID, leftAt))
	return s, notFound(err)
}

// CloseIdle ends the open session at its last_seen_at if that is before the cutoff.
func (p *PostgresStore) CloseIdle(ctx context.Context, sessionID string, before time.Time) (*models.ViewerSession, error) {
	s, err := scanSession(p.pool.QueryRow(ctx,
		`UPDATE viewer_sessions
		 SET left_at = GREATEST(last_seen_at, joined_at),
		     watch_seconds = FLOOR(EXTRACT(EPOCH FROM (GREATEST(last_seen_at, joined_at) - joined_at)))::BIGINT
		 WHERE session_id = $1 AND left_at IS NULL AND last_seen_at < $2
		 RETURNING `+sessionColumns, sessionID, before))
	return s, notFound(err)
}

// Touch moves last_seen_at forward on the open session.
func (p *PostgresStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE viewer_sessions SET last_seen_at = GREATEST(last_seen_at, $2) WHERE session_id = $1 AND left_at IS NULL`,
		sessionID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no active session %s", apperr.ErrNotFound, sessionID)
	}
	return nil
}

func (p *PostgresStore) list(ctx context.Context, q string, args ...interface{}) ([]models.ViewerSession, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ViewerSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ListActiveByStream returns the open sessions of a stream.
func (p *PostgresStore) ListActiveByStream(ctx context.Context, streamID uuid.UUID) ([]models.ViewerSession, error) {
	return p.list(ctx,
		`SELECT `+sessionColumns+` FROM viewer_sessions WHERE stream_id = $1 AND left_at IS NULL ORDER BY joined_at`,
		streamID)
}

// CountActive counts the open sessions of a stream across all instances.
func (p *PostgresStore) CountActive(ctx context.Context, streamID uuid.UUID) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM viewer_sessions WHERE stream_id = $1 AND left_at IS NULL`, streamID).Scan(&n)
	return n, err
}

// ListIdle returns open sessions last seen before the cutoff, oldest first.
func (p *PostgresStore) ListIdle(ctx context.Context, before time.Time, limit int) ([]models.ViewerSession, error) {
	return p.list(ctx,
		`SELECT `+sessionColumns+` FROM viewer_sessions
		 WHERE left_at IS NULL AND last_seen_at < $1 ORDER BY last_seen_at LIMIT $2`,
		before, limit)
}

// ListByStream returns the newest sessions of a stream.
func (p *PostgresStore) ListByStream(ctx context.Context, streamID uuid.UUID, limit int) ([]models.ViewerSession, error) {
	return p.list(ctx,
		`SELECT `+sessionColumns+` FROM viewer_sessions WHERE stream_id = $1 ORDER BY joined_at DESC LIMIT $2`,
		streamID, limit)
}

// CountUnique counts distinct viewers over the whole stream.
func (p *PostgresStore) CountUnique(ctx context.Context, streamID uuid.UUID) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT COALESCE('user:' || user_id::text, 'session:' || session_id))
		 FROM viewer_sessions WHERE stream_id = $1`, streamID).Scan(&n)
	return n, err
}

// CountUniqueBetween counts distinct viewers present at some point in [from, to).
func (p *PostgresStore) CountUniqueBetween(ctx context.Context, streamID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT COALESCE('user:' || user_id::text, 'session:' || session_id))
		 FROM viewer_sessions
		 WHERE stream_id = $1 AND joined_at < $3 AND (left_at IS NULL OR left_at >= $2)`,
		streamID, from, to).Scan(&n)
	return n, err
}

// AddActivity bumps the chat and reaction counters of the open session.
func (p *PostgresStore) AddActivity(ctx context.Context, sessionID string, chat, reactions int) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE viewer_sessions SET chat_count = chat_count + $2, reaction_count = reaction_count + $3
		 WHERE session_id = $1 AND left_at IS NULL`,
		sessionID, chat, reactions)
	return err
}
