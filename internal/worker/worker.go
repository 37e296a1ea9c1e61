// Package worker drains the Redis job queues: recording uploads and
// notification delivery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/pkg/queue"
)

// JobQueue is the subset of queue.Queue the worker drives.
type JobQueue interface {
	Dequeue(ctx context.Context, keys ...string) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor handles one job type.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Worker dequeues jobs from the registered lists and dispatches them by type.
// Failed jobs are retried and dead-lettered by the queue.
type Worker struct {
	queue      JobQueue
	processors map[queue.JobType]Processor
	keys       []string
	backoff    time.Duration
	logger     *zap.Logger
}

// New creates a worker with no processors.
func New(q JobQueue, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      q,
		processors: make(map[queue.JobType]Processor),
		backoff:    queue.RetryBackoff,
		logger:     logger,
	}
}

// Handle routes jobs of type t to p and listens on keys.
func (w *Worker) Handle(t queue.JobType, p Processor, keys ...string) {
	w.processors[t] = p
	w.keys = append(w.keys, keys...)
}

// SetBackoff sets the pause after a failed job or dequeue error.
func (w *Worker) SetBackoff(d time.Duration) { w.backoff = d }

// Run starts the worker loop: dequeue, process, retry on error.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.keys) == 0 {
		return errors.New("worker: no queues registered")
	}
	w.logger.Info("worker started", zap.Strings("queues", w.keys))
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return nil
		}
		job, err := w.queue.Dequeue(ctx, w.keys...)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		if err := w.handle(ctx, job); err != nil {
			w.sleep(ctx)
		}
	}
}

func (w *Worker) handle(ctx context.Context, job *queue.Job) error {
	w.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	p, ok := w.processors[job.Type]
	var err error
	if !ok {
		err = fmt.Errorf("unknown job type: %s", job.Type)
	} else {
		err = p.Process(ctx, job)
	}
	if err == nil {
		return nil
	}
	w.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt), zap.Error(err))
	if reErr := w.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
		w.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
	}
	return err
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
