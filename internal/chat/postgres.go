package chat

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
)

const messageColumns = `id, stream_id, user_id, session_id, body, message_type, reply_to,
	is_moderated, moderated_by, moderation_reason, moderated_at, created_at`

// PostgresStore implements Store on chat_messages and reactions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a chat store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := row.Scan(&m.ID, &m.StreamID, &m.UserID, &m.SessionID, &m.Body, &m.Type, &m.ReplyTo,
		&m.IsModerated, &m.ModeratedBy, &m.ModReason, &m.ModeratedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// The stream row is share-locked so an end or cancel cannot commit between
// the status check and the insert.
const liveStreamGuard = `FROM streams WHERE id = $2 AND status = 'live' FOR SHARE`

// InsertMessage stores m if its stream is still Live.
func (p *PostgresStore) InsertMessage(ctx context.Context, m *models.ChatMessage) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, stream_id, user_id, session_id, body, message_type, reply_to, created_at)
		 SELECT $1::uuid, $2::uuid, $3::uuid, $4::text, $5::text, $6::text, $7::uuid, $8::timestamptz `+liveStreamGuard,
		m.ID, m.StreamID, m.UserID, m.SessionID, m.Body, m.Type, m.ReplyTo, m.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stream %s", apperr.ErrNotLive, m.StreamID)
	}
	return nil
}

func (p *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	m, err := scanMessage(p.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: chat message", apperr.ErrNotFound)
	}
	return m, err
}

func (p *PostgresStore) Moderate(ctx context.Context, id, by uuid.UUID, reason string, at time.Time) (*models.ChatMessage, bool, error) {
	m, err := scanMessage(p.pool.QueryRow(ctx,
		`UPDATE chat_messages
		 SET is_moderated = TRUE, moderated_by = $2, moderation_reason = $3, moderated_at = $4
		 WHERE id = $1 AND is_moderated = FALSE
		 RETURNING `+messageColumns, id, by, reason, at))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := p.GetMessage(ctx, id)
		return cur, false, gerr
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, streamID uuid.UUID, limit int, includeModerated bool) ([]models.ChatMessage, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT * FROM (
			SELECT `+messageColumns+` FROM chat_messages
			WHERE stream_id = $1 AND ($3 OR is_moderated = FALSE)
			ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at ASC`,
		streamID, limit, includeModerated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// InsertReaction stores r if its stream is still Live.
func (p *PostgresStore) InsertReaction(ctx context.Context, r *models.Reaction) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO reactions (id, stream_id, user_id, session_id, reaction_type, offset_seconds, created_at)
		 SELECT $1::uuid, $2::uuid, $3::uuid, $4::text, $5::text, $6::int, $7::timestamptz `+liveStreamGuard,
		r.ID, r.StreamID, r.UserID, r.SessionID, r.Type, r.OffsetSeconds, r.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stream %s", apperr.ErrNotLive, r.StreamID)
	}
	return nil
}

func (p *PostgresStore) ReactionCounts(ctx context.Context, streamID uuid.UUID) (map[models.ReactionType]int, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT reaction_type, COUNT(*) FROM reactions WHERE stream_id = $1 GROUP BY reaction_type`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[models.ReactionType]int)
	for rows.Next() {
		var t models.ReactionType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}
