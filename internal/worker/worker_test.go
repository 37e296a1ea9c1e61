package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/queue"
)

type fakeQueue struct {
	mu      sync.Mutex
	jobs    chan *queue.Job
	retried []*queue.Job
}

func newFakeQueue() *fakeQueue { return &fakeQueue{jobs: make(chan *queue.Job, 16)} }

func (f *fakeQueue) Dequeue(ctx context.Context, _ ...string) (*queue.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case j := <-f.jobs:
		return j, nil
	}
}

func (f *fakeQueue) Retry(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Attempt++
	f.retried = append(f.retried, job)
	return nil
}

func (f *fakeQueue) retries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retried)
}

type countingProcessor struct {
	mu    sync.Mutex
	seen  []string
	fail  bool
	calls chan struct{}
}

func (p *countingProcessor) Process(_ context.Context, job *queue.Job) error {
	p.mu.Lock()
	p.seen = append(p.seen, job.ID)
	p.mu.Unlock()
	defer func() { p.calls <- struct{}{} }()
	if p.fail {
		return errors.New("boom")
	}
	return nil
}

func mustJob(t *testing.T, typ queue.JobType, key string, payload interface{}) *queue.Job {
	t.Helper()
	j, err := queue.NewJob(typ, key, payload)
	if err != nil {
		t.Fatalf("NewJob() error: %v", err)
	}
	return j
}

func waitCall(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected processor to be called")
	}
}

func TestWorker_Run(t *testing.T) {
	t.Run("dispatches by type", func(t *testing.T) {
		q := newFakeQueue()
		p := &countingProcessor{calls: make(chan struct{}, 4)}
		w := New(q, zap.NewNop())
		w.Handle(queue.JobTypeRecordingUpload, p, queue.QueueRecordings)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		job := mustJob(t, queue.JobTypeRecordingUpload, queue.QueueRecordings, queue.RecordingUploadPayload{StreamID: uuid.New()})
		q.jobs <- job
		waitCall(t, p.calls)
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Expected nil from Run, got %v", err)
		}
		if len(p.seen) != 1 || p.seen[0] != job.ID {
			t.Errorf("Expected job %s processed, got %v", job.ID, p.seen)
		}
		if q.retries() != 0 {
			t.Errorf("Expected no retries, got %d", q.retries())
		}
	})

	t.Run("failed job is retried", func(t *testing.T) {
		q := newFakeQueue()
		p := &countingProcessor{fail: true, calls: make(chan struct{}, 4)}
		w := New(q, zap.NewNop())
		w.SetBackoff(time.Millisecond)
		w.Handle(queue.JobTypeNotification, p, queue.NotificationQueue("push"))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		q.jobs <- mustJob(t, queue.JobTypeNotification, queue.NotificationQueue("push"), queue.NotificationPayload{Channel: "push"})
		waitCall(t, p.calls)
		deadline := time.Now().Add(2 * time.Second)
		for q.retries() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		cancel()
		<-done
		if q.retries() != 1 || q.retried[0].Attempt != 1 {
			t.Errorf("Expected one retry at attempt 1, got %d", q.retries())
		}
	})

	t.Run("no queues", func(t *testing.T) {
		if err := New(newFakeQueue(), nil).Run(context.Background()); err == nil {
			t.Error("Expected error without registered queues")
		}
	})
}

type fakeUploader struct {
	key   string
	body  []byte
	size  int64
	err   error
	calls int
}

func (f *fakeUploader) UploadRecording(_ context.Context, key, _ string, body io.Reader, size int64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.key, f.body, f.size = key, b, size
	return "https://recs.example/" + key, nil
}

func TestRecordingProcessor(t *testing.T) {
	ctx := context.Background()
	reg := streams.NewRegistry(streams.NewMemoryStore(), nil, zap.NewNop())
	s, err := reg.Create(ctx, streams.CreateInput{Title: "Keynote", RecordingEnabled: true, OwnerID: uuid.New()})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := reg.Transition(ctx, s.ID, streams.EventIngestStarted); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if _, err := reg.Transition(ctx, s.ID, streams.EventIngestStopped); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), s.ID.String()+".mp4")
	if err := os.WriteFile(path, []byte("mp4data"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	job := mustJob(t, queue.JobTypeRecordingUpload, queue.QueueRecordings, queue.RecordingUploadPayload{StreamID: s.ID, LocalPath: path})

	t.Run("upload failure keeps the file", func(t *testing.T) {
		up := &fakeUploader{err: errors.New("s3 down")}
		p := NewRecordingProcessor(up, reg, nil, zap.NewNop())
		if err := p.Process(ctx, job); err == nil {
			t.Fatal("Expected upload error")
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected local file kept for retry, got %v", err)
		}
	})

	t.Run("uploads and attaches", func(t *testing.T) {
		up := &fakeUploader{}
		p := NewRecordingProcessor(up, reg, nil, zap.NewNop())
		if err := p.Process(ctx, job); err != nil {
			t.Fatalf("Process() error: %v", err)
		}
		if up.key != "recordings/"+s.ID.String()+".mp4" || string(up.body) != "mp4data" || up.size != 7 {
			t.Errorf("Unexpected upload key=%s body=%q size=%d", up.key, up.body, up.size)
		}
		got, _ := reg.Get(ctx, s.ID)
		if got.RecordingURL != "https://recs.example/"+up.key {
			t.Errorf("Expected recording url attached, got %q", got.RecordingURL)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("Expected local file removed, got %v", err)
		}
	})

	t.Run("redelivered job is a no-op", func(t *testing.T) {
		up := &fakeUploader{}
		p := NewRecordingProcessor(up, reg, nil, zap.NewNop())
		if err := p.Process(ctx, job); err != nil {
			t.Errorf("Expected nil, got %v", err)
		}
		if up.calls != 0 {
			t.Errorf("Expected no upload, got %d", up.calls)
		}
	})
}

func TestNotificationProcessor(t *testing.T) {
	ctx := context.Background()
	var got []queue.NotificationPayload
	push := SenderFunc(func(_ context.Context, n queue.NotificationPayload) error {
		got = append(got, n)
		return nil
	})
	failing := SenderFunc(func(context.Context, queue.NotificationPayload) error { return errors.New("gateway timeout") })
	p := NewNotificationProcessor(map[models.Channel]Sender{
		models.ChannelPush: push,
		models.ChannelSMS:  failing,
	}, nil, zap.NewNop())

	keys := p.Queues()
	if len(keys) != 2 || keys[0] != queue.NotificationQueue("push") || keys[1] != queue.NotificationQueue("sms") {
		t.Errorf("Unexpected queues %v", keys)
	}

	tests := []struct {
		channel string
		wantErr bool
	}{
		{"push", false},
		{"sms", true},
		{"email", true},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			job := mustJob(t, queue.JobTypeNotification, queue.NotificationQueue(tt.channel), queue.NotificationPayload{
				NotificationID: uuid.New(),
				Channel:        tt.channel,
				Kind:           "live",
			})
			err := p.Process(ctx, job)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
	if len(got) != 1 || got[0].Channel != "push" {
		t.Errorf("Expected one push delivery, got %+v", got)
	}
}
