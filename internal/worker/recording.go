package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/pkg/queue"
	"github.com/aura-webinar/livestream/pkg/storage"
)

// Uploader stores a recording and returns its URL.
type Uploader interface {
	UploadRecording(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// RecordingAttacher records where a stream's recording lives.
type RecordingAttacher interface {
	AttachRecording(ctx context.Context, id uuid.UUID, url string) (*models.Stream, error)
}

// RecordingProcessor uploads finished recordings to object storage and
// attaches the URL to the stream.
type RecordingProcessor struct {
	uploader Uploader
	streams  RecordingAttacher
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRecordingProcessor creates a recording upload processor.
func NewRecordingProcessor(uploader Uploader, streams RecordingAttacher, m *metrics.Metrics, logger *zap.Logger) *RecordingProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingProcessor{uploader: uploader, streams: streams, metrics: m, logger: logger}
}

// Process executes one recording upload job. The local file is removed once
// the stream points at the uploaded object.
func (p *RecordingProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.RecordingUploadPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	start := time.Now()

	f, err := os.Open(payload.LocalPath)
	if errors.Is(err, os.ErrNotExist) {
		// Already uploaded and cleaned up by an earlier attempt.
		p.logger.Warn("recording file gone", zap.String("stream_id", payload.StreamID.String()), zap.String("path", payload.LocalPath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat recording: %w", err)
	}

	contentType := payload.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := storage.RecordingKey(payload.StreamID.String())
	url, err := p.uploader.UploadRecording(ctx, key, contentType, f, info.Size())
	if err != nil {
		p.metrics.ObserveRecordingUpload("error", time.Since(start).Seconds())
		return fmt.Errorf("s3 upload: %w", err)
	}

	if _, err := p.streams.AttachRecording(ctx, payload.StreamID, url); err != nil {
		p.metrics.ObserveRecordingUpload("error", time.Since(start).Seconds())
		return fmt.Errorf("attach recording: %w", err)
	}
	p.metrics.ObserveRecordingUpload("success", time.Since(start).Seconds())

	_ = f.Close()
	if err := os.Remove(payload.LocalPath); err != nil {
		p.logger.Warn("remove local recording failed", zap.String("path", payload.LocalPath), zap.Error(err))
	}
	p.logger.Info("recording upload completed",
		zap.String("stream_id", payload.StreamID.String()),
		zap.String("s3_key", key),
		zap.Int64("bytes", info.Size()))
	return nil
}
