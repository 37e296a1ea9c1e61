package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueRecordings is the Redis list key for recording upload jobs.
	QueueRecordings = "livestream:recordings"
	// queueNotificationsPrefix is followed by the delivery channel name.
	queueNotificationsPrefix = "livestream:notifications:"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "livestream:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeRecordingUpload JobType = "recording_upload"
	JobTypeNotification    JobType = "notification"
)

// NotificationQueue returns the list key for a delivery channel.
func NotificationQueue(channel string) string {
	return queueNotificationsPrefix + channel
}

// RecordingUploadPayload is the payload for recording upload jobs.
type RecordingUploadPayload struct {
	StreamID    uuid.UUID `json:"stream_id"`
	LocalPath   string    `json:"local_path"`
	ContentType string    `json:"content_type"`
}

// NotificationPayload is one notification handed to one delivery channel.
type NotificationPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
	StreamID       uuid.UUID `json:"stream_id"`
	Kind           string    `json:"kind"`
	Channel        string    `json:"channel"`
	Priority       string    `json:"priority"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Scope          string    `json:"recipient_scope"`
	Recipients     []string  `json:"recipients,omitempty"`
}

// Job is a generic job envelope. Queue is the list the job was taken from.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// NewJob wraps payload in an envelope bound for key.
func NewJob(t JobType, key string, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Queue:     key,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, job.Queue, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", job.Queue, err)
	}
	return nil
}

// EnqueueRecordingUpload enqueues a recording upload job.
func (q *Queue) EnqueueRecordingUpload(ctx context.Context, payload RecordingUploadPayload) error {
	job, err := NewJob(JobTypeRecordingUpload, QueueRecordings, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued recording upload job", zap.String("job_id", job.ID), zap.String("stream_id", payload.StreamID.String()))
	return nil
}

// EnqueueNotification enqueues a notification on its channel's list.
func (q *Queue) EnqueueNotification(ctx context.Context, payload NotificationPayload) error {
	job, err := NewJob(JobTypeNotification, NotificationQueue(payload.Channel), payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued notification job",
		zap.String("job_id", job.ID),
		zap.String("notification_id", payload.NotificationID.String()),
		zap.String("channel", payload.Channel))
	return nil
}

// Dequeue blocks until a job is available on one of keys or ctx is done.
// A nil job with nil error means nothing usable was popped.
func (q *Queue) Dequeue(ctx context.Context, keys ...string) (*Job, error) {
	if len(keys) == 0 {
		keys = []string{QueueRecordings}
	}
	result, err := q.client.BLPop(ctx, 0, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	job.Queue = result[0]
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		dead := *job
		dead.Queue = QueueDLQ
		if err := q.push(ctx, &dead); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("queue", job.Queue), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
