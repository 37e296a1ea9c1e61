// Package ingest authorizes publishers by ingest key and drives the stream
// lifecycle from media pipeline events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/apperr"
	"github.com/aura-webinar/livestream/pkg/queue"
)

// ErrPublishRejected is returned for every refused publish attempt, whatever
// the reason, so callers cannot probe which keys exist.
var ErrPublishRejected = fmt.Errorf("%w: publish rejected", apperr.ErrUnauthorized)

// Registry is the part of the stream registry the gatekeeper drives.
type Registry interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	GetByIngestKey(ctx context.Context, key string) (*models.Stream, error)
	Transition(ctx context.Context, id uuid.UUID, ev streams.Event) (*models.Stream, error)
}

// RecordingQueue accepts recording upload jobs.
type RecordingQueue interface {
	EnqueueRecordingUpload(ctx context.Context, payload queue.RecordingUploadPayload) error
}

// Gatekeeper checks publish attempts and ends streams when publishing stops.
type Gatekeeper struct {
	registry   Registry
	pipeline   Pipeline
	recordings RecordingQueue
	ingestBase string
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

// NewGatekeeper creates a gatekeeper. recordings may be nil to skip uploads.
func NewGatekeeper(registry Registry, pipeline Pipeline, recordings RecordingQueue, ingestBase string, m *metrics.Metrics, logger *zap.Logger) *Gatekeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatekeeper{
		registry:   registry,
		pipeline:   pipeline,
		recordings: recordings,
		ingestBase: strings.TrimRight(ingestBase, "/"),
		metrics:    m,
		logger:     logger,
		inflight:   make(map[uuid.UUID]struct{}),
	}
}

func (g *Gatekeeper) claim(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[id]; busy {
		return false
	}
	g.inflight[id] = struct{}{}
	return true
}

func (g *Gatekeeper) release(id uuid.UUID) {
	g.mu.Lock()
	delete(g.inflight, id)
	g.mu.Unlock()
}

func (g *Gatekeeper) reject(reason string, fields ...zap.Field) error {
	g.metrics.IncPublishAttempt("rejected")
	g.logger.Info("publish rejected", append(fields, zap.String("reason", reason))...)
	return ErrPublishRejected
}

// AuthorizePublish starts the pipeline for the Scheduled stream owning key
// and moves it to Live. Only one attempt per stream can succeed; a failed
// pipeline start leaves the stream Scheduled.
func (g *Gatekeeper) AuthorizePublish(ctx context.Context, key string) (*models.Stream, error) {
	if key == "" {
		return nil, g.reject("empty key")
	}
	s, err := g.registry.GetByIngestKey(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, g.reject("unknown key")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup ingest key: %w", err)
	}
	if s.Status != models.StreamStatusScheduled {
		return nil, g.reject("stream not scheduled", zap.String("stream_id", s.ID.String()), zap.String("status", string(s.Status)))
	}
	if !g.claim(s.ID) {
		return nil, g.reject("publish already in progress", zap.String("stream_id", s.ID.String()))
	}
	defer g.release(s.ID)

	// The lookup above may predate a publish that finished before the claim.
	s, err = g.registry.Get(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("reload stream: %w", err)
	}
	if s.Status != models.StreamStatusScheduled {
		return nil, g.reject("stream not scheduled", zap.String("stream_id", s.ID.String()), zap.String("status", string(s.Status)))
	}

	req := StartRequest{StreamID: s.ID, IngestURL: g.ingestBase + "/" + key, RecordingEnabled: s.RecordingEnabled}
	if err := g.pipeline.Start(ctx, req); err != nil {
		g.metrics.IncPublishAttempt("pipeline_error")
		g.logger.Error("pipeline start failed", zap.String("stream_id", s.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	live, err := g.registry.Transition(ctx, s.ID, streams.EventIngestStarted)
	if err != nil {
		if _, serr := g.pipeline.Stop(context.WithoutCancel(ctx), s.ID); serr != nil {
			g.logger.Warn("pipeline stop after lost transition failed", zap.String("stream_id", s.ID.String()), zap.Error(serr))
		}
		if errors.Is(err, apperr.ErrInvalidTransition) {
			return nil, g.reject("lost publish race", zap.String("stream_id", s.ID.String()))
		}
		return nil, err
	}
	g.metrics.IncPublishAttempt("accepted")
	g.logger.Info("publish accepted", zap.String("stream_id", s.ID.String()))
	return live, nil
}

// PublishStopped ends the stream owning key. Unknown keys and streams that
// already ended are ignored.
func (g *Gatekeeper) PublishStopped(ctx context.Context, key string) error {
	s, err := g.registry.GetByIngestKey(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = g.end(ctx, s)
	if errors.Is(err, apperr.ErrInvalidTransition) {
		return nil
	}
	return err
}

// PipelineExited treats an unexpected process exit as the end of publishing.
func (g *Gatekeeper) PipelineExited(streamID uuid.UUID, cause error) {
	ctx := context.Background()
	s, err := g.registry.Get(ctx, streamID)
	if err != nil {
		g.logger.Warn("pipeline exit for unknown stream", zap.String("stream_id", streamID.String()), zap.Error(err))
		return
	}
	g.logger.Info("ending stream after pipeline exit", zap.String("stream_id", streamID.String()), zap.Error(cause))
	if _, err := g.end(ctx, s); err != nil && !errors.Is(err, apperr.ErrInvalidTransition) {
		g.logger.Error("end stream after pipeline exit failed", zap.String("stream_id", streamID.String()), zap.Error(err))
	}
}

// EndStream ends a Live stream on request of its owner.
func (g *Gatekeeper) EndStream(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	s, err := g.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.end(ctx, s)
}

// end moves s to Ended, then stops the pipeline and queues the recording.
// The pipeline is stopped even when the transition fails, since Stop is
// idempotent and the stream may have ended elsewhere.
func (g *Gatekeeper) end(ctx context.Context, s *models.Stream) (*models.Stream, error) {
	ended, terr := g.registry.Transition(ctx, s.ID, streams.EventIngestStopped)
	ctx = context.WithoutCancel(ctx)
	path, err := g.pipeline.Stop(ctx, s.ID)
	if err != nil {
		g.logger.Warn("pipeline stop failed", zap.String("stream_id", s.ID.String()), zap.Error(err))
	}
	if path != "" && s.RecordingEnabled {
		g.queueRecording(ctx, s.ID, path)
	}
	if terr != nil {
		return nil, terr
	}
	return ended, nil
}

func (g *Gatekeeper) queueRecording(ctx context.Context, streamID uuid.UUID, path string) {
	if g.recordings == nil {
		return
	}
	err := g.recordings.EnqueueRecordingUpload(ctx, queue.RecordingUploadPayload{
		StreamID:    streamID,
		LocalPath:   path,
		ContentType: "video/mp4",
	})
	if err != nil {
		g.logger.Error("enqueue recording upload failed", zap.String("stream_id", streamID.String()), zap.Error(err))
		return
	}
	g.logger.Info("recording upload queued", zap.String("stream_id", streamID.String()), zap.String("path", path))
}
