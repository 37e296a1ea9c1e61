package notifications

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

const notificationColumns = `id, stream_id, kind, title, body, recipient_scope, recipients, channels,
	priority, scheduled_for, sent_at, attempts, last_error, created_at`

// PostgresStore implements Store on stream_notifications.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a notification store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanNotification(row pgx.Row) (*models.StreamNotification, error) {
	var (
		n        models.StreamNotification
		channels []string
	)
	err := row.Scan(&n.ID, &n.StreamID, &n.Kind, &n.Title, &n.Body, &n.Scope, &n.Recipients, &channels,
		&n.Priority, &n.ScheduledFor, &n.SentAt, &n.Attempts, &n.LastError, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Channels = make([]models.Channel, len(channels))
	for i, c := range channels {
		n.Channels[i] = models.Channel(c)
	}
	return &n, nil
}

func channelStrings(cs []models.Channel) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func (p *PostgresStore) Create(ctx context.Context, n *models.StreamNotification) error {
	recipients := n.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO stream_notifications (id, stream_id, kind, title, body, recipient_scope, recipients, channels,
			priority, scheduled_for, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.StreamID, n.Kind, n.Title, n.Body, n.Scope, recipients, channelStrings(n.Channels),
		n.Priority, n.ScheduledFor, n.CreatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s notification exists for stream", apperr.ErrConflict, n.Kind)
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.StreamNotification, error) {
	n, err := scanNotification(p.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM stream_notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: notification", apperr.ErrNotFound)
	}
	return n, err
}

func (p *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE stream_notifications SET sent_at = $2, attempts = attempts + 1, last_error = ''
		 WHERE id = $1 AND sent_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE stream_notifications SET attempts = attempts + 1, last_error = $2
		 WHERE id = $1 AND sent_at IS NULL`, id, reason)
	return err
}

func (p *PostgresStore) list(ctx context.Context, q string, args ...interface{}) ([]models.StreamNotification, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.StreamNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *n)
	}
	return list, rows.Err()
}

func (p *PostgresStore) ListUnsent(ctx context.Context, dueBy time.Time, maxAttempts, limit int) ([]models.StreamNotification, error) {
	return p.list(ctx,
		`SELECT `+notificationColumns+` FROM stream_notifications
		 WHERE sent_at IS NULL AND scheduled_for <= $1 AND attempts < $2
		 ORDER BY scheduled_for LIMIT $3`,
		dueBy, maxAttempts, limit)
}

func (p *PostgresStore) ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.StreamNotification, error) {
	return p.list(ctx,
		`SELECT `+notificationColumns+` FROM stream_notifications WHERE stream_id = $1 ORDER BY created_at`,
		streamID)
}
