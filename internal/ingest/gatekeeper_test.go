package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/apperr"
	"github.com/aura-webinar/livestream/pkg/queue"
)

type fakePipeline struct {
	mu       sync.Mutex
	running  map[uuid.UUID]StartRequest
	starts   int
	stops    int
	failNext bool
	delay    time.Duration
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{running: make(map[uuid.UUID]StartRequest)}
}

func (f *fakePipeline) Start(_ context.Context, req StartRequest) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.failNext {
		f.failNext = false
		return errors.New("ffmpeg not found")
	}
	f.running[req.StreamID] = req
	return nil
}

func (f *fakePipeline) Stop(_ context.Context, id uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.running[id]
	if !ok {
		return "", nil
	}
	delete(f.running, id)
	f.stops++
	if req.RecordingEnabled {
		return "/tmp/" + id.String() + ".mp4", nil
	}
	return "", nil
}

func (f *fakePipeline) runningCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}

type fakeRecordings struct {
	mu   sync.Mutex
	jobs []queue.RecordingUploadPayload
}

func (f *fakeRecordings) EnqueueRecordingUpload(_ context.Context, p queue.RecordingUploadPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, p)
	return nil
}

type fixture struct {
	registry   *streams.Registry
	pipeline   *fakePipeline
	recordings *fakeRecordings
	gate       *Gatekeeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := streams.NewRegistry(streams.NewMemoryStore(), nil, zap.NewNop())
	p := newFakePipeline()
	rec := &fakeRecordings{}
	return &fixture{
		registry:   reg,
		pipeline:   p,
		recordings: rec,
		gate:       NewGatekeeper(reg, p, rec, "rtmp://ingest.local/live/", nil, zap.NewNop()),
	}
}

func (f *fixture) create(t *testing.T, recording bool) *models.Stream {
	t.Helper()
	s, err := f.registry.Create(context.Background(), streams.CreateInput{Title: "Launch", RecordingEnabled: recording, OwnerID: uuid.New()})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return s
}

func TestAuthorizePublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, false)

	live, err := f.gate.AuthorizePublish(ctx, s.IngestKey)
	if err != nil {
		t.Fatalf("AuthorizePublish() error: %v", err)
	}
	if live.Status != models.StreamStatusLive || live.StartedAt == nil {
		t.Errorf("Expected live with started_at, got %s %v", live.Status, live.StartedAt)
	}
	req := f.pipeline.running[s.ID]
	if req.IngestURL != "rtmp://ingest.local/live/"+s.IngestKey {
		t.Errorf("Unexpected ingest url %q", req.IngestURL)
	}

	t.Run("key reuse is rejected", func(t *testing.T) {
		_, err := f.gate.AuthorizePublish(ctx, s.IngestKey)
		if !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestAuthorizePublish_RejectionsLookAlike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cancelled := f.create(t, false)
	if _, err := f.registry.Transition(ctx, cancelled.ID, streams.EventCancel); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}

	var msgs []string
	for _, key := range []string{"", "live_doesnotexist", cancelled.IngestKey} {
		_, err := f.gate.AuthorizePublish(ctx, key)
		if !errors.Is(err, ErrPublishRejected) {
			t.Fatalf("Expected ErrPublishRejected for %q, got %v", key, err)
		}
		msgs = append(msgs, err.Error())
	}
	for _, m := range msgs[1:] {
		if m != msgs[0] {
			t.Errorf("Expected identical rejection messages, got %q and %q", msgs[0], m)
		}
	}
	if f.pipeline.starts != 0 {
		t.Errorf("Expected no pipeline start, got %d", f.pipeline.starts)
	}
}

func TestAuthorizePublish_ConcurrentAttempts(t *testing.T) {
	f := newFixture(t)
	f.pipeline.delay = 5 * time.Millisecond
	// A second instance sharing the registry, as with two API replicas.
	otherPipeline := newFakePipeline()
	otherPipeline.delay = 5 * time.Millisecond
	other := NewGatekeeper(f.registry, otherPipeline, nil, "rtmp://ingest.local/live", nil, zap.NewNop())
	s := f.create(t, false)

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for i := 0; i < 20; i++ {
		g := f.gate
		if i%2 == 1 {
			g = other
		}
		wg.Add(1)
		go func(g *Gatekeeper) {
			defer wg.Done()
			_, err := g.AuthorizePublish(context.Background(), s.IngestKey)
			switch {
			case err == nil:
				success.Add(1)
			case !errors.Is(err, apperr.ErrUnauthorized):
				t.Errorf("Expected ErrUnauthorized, got %v", err)
			}
		}(g)
	}
	wg.Wait()

	if n := success.Load(); n != 1 {
		t.Fatalf("Expected exactly 1 successful publish, got %d", n)
	}
	if n := f.pipeline.runningCount() + otherPipeline.runningCount(); n != 1 {
		t.Errorf("Expected 1 running pipeline, got %d", n)
	}
}

func TestAuthorizePublish_PipelineFailureLeavesScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, false)
	f.pipeline.failNext = true

	if _, err := f.gate.AuthorizePublish(ctx, s.IngestKey); err == nil {
		t.Fatal("Expected pipeline error")
	}
	got, _ := f.registry.Get(ctx, s.ID)
	if got.Status != models.StreamStatusScheduled {
		t.Fatalf("Expected scheduled after failed start, got %s", got.Status)
	}
	if _, err := f.gate.AuthorizePublish(ctx, s.IngestKey); err != nil {
		t.Errorf("Expected retry to succeed, got %v", err)
	}
}

func TestPublishStopped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, true)
	if _, err := f.gate.AuthorizePublish(ctx, s.IngestKey); err != nil {
		t.Fatalf("AuthorizePublish() error: %v", err)
	}

	if err := f.gate.PublishStopped(ctx, s.IngestKey); err != nil {
		t.Fatalf("PublishStopped() error: %v", err)
	}
	got, _ := f.registry.Get(ctx, s.ID)
	if got.Status != models.StreamStatusEnded {
		t.Errorf("Expected ended, got %s", got.Status)
	}
	if f.pipeline.runningCount() != 0 {
		t.Error("Expected pipeline stopped")
	}
	if len(f.recordings.jobs) != 1 || f.recordings.jobs[0].StreamID != s.ID {
		t.Fatalf("Expected one recording job, got %+v", f.recordings.jobs)
	}

	if err := f.gate.PublishStopped(ctx, s.IngestKey); err != nil {
		t.Errorf("Expected repeated stop to be ignored, got %v", err)
	}
	if err := f.gate.PublishStopped(ctx, "live_unknown"); err != nil {
		t.Errorf("Expected unknown key to be ignored, got %v", err)
	}
	if len(f.recordings.jobs) != 1 {
		t.Errorf("Expected still one recording job, got %d", len(f.recordings.jobs))
	}
}

func TestPipelineExitedEndsStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, false)
	if _, err := f.gate.AuthorizePublish(ctx, s.IngestKey); err != nil {
		t.Fatalf("AuthorizePublish() error: %v", err)
	}
	f.gate.PipelineExited(s.ID, errors.New("exit status 1"))
	got, _ := f.registry.Get(ctx, s.ID)
	if got.Status != models.StreamStatusEnded {
		t.Errorf("Expected ended after pipeline exit, got %s", got.Status)
	}
	if len(f.recordings.jobs) != 0 {
		t.Errorf("Expected no recording job when recording is disabled, got %d", len(f.recordings.jobs))
	}
}

func TestEndStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, false)
	if _, err := f.gate.EndStream(ctx, s.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition ending a scheduled stream, got %v", err)
	}
	if _, err := f.gate.AuthorizePublish(ctx, s.IngestKey); err != nil {
		t.Fatalf("AuthorizePublish() error: %v", err)
	}
	ended, err := f.gate.EndStream(ctx, s.ID)
	if err != nil {
		t.Fatalf("EndStream() error: %v", err)
	}
	if ended.Status != models.StreamStatusEnded || ended.FinalViewerCount == nil {
		t.Errorf("Expected ended with frozen count, got %s %v", ended.Status, ended.FinalViewerCount)
	}
}

// staleRegistry serves a fixed key lookup result, as a read replica or a
// lookup that raced a finished publish would.
type staleRegistry struct {
	*streams.Registry
	snapshot *models.Stream
}

func (r *staleRegistry) GetByIngestKey(ctx context.Context, key string) (*models.Stream, error) {
	if r.snapshot != nil {
		cp := *r.snapshot
		return &cp, nil
	}
	return r.Registry.GetByIngestKey(ctx, key)
}

func TestAuthorizePublish_StaleLookupIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, false)
	reg := &staleRegistry{Registry: f.registry}
	gate := NewGatekeeper(reg, f.pipeline, nil, "rtmp://ingest.local/live", nil, zap.NewNop())

	if _, err := gate.AuthorizePublish(ctx, s.IngestKey); err != nil {
		t.Fatalf("AuthorizePublish() error: %v", err)
	}
	reg.snapshot = s // still Scheduled

	_, err := gate.AuthorizePublish(ctx, s.IngestKey)
	if !errors.Is(err, ErrPublishRejected) {
		t.Fatalf("Expected ErrPublishRejected, got %v", err)
	}
	if f.pipeline.starts != 1 || f.pipeline.stops != 0 {
		t.Errorf("Expected 1 start and 0 stops, got %d and %d", f.pipeline.starts, f.pipeline.stops)
	}
	if f.pipeline.runningCount() != 1 {
		t.Error("Expected the live stream's pipeline to keep running")
	}
	got, _ := f.registry.Get(ctx, s.ID)
	if got.Status != models.StreamStatusLive {
		t.Errorf("Expected live, got %s", got.Status)
	}
}
