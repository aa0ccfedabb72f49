package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one leased job. A returned error nacks the job for
// redelivery; handlers are expected to be idempotent since the queue
// is at-least-once and concurrent workers can reorder deliveries.
type Handler func(ctx context.Context, job *Job) error

// EventFunc observes job lifecycle transitions (for the ws hub and the
// status dashboard). phase is one of "leased", "done", "retry",
// "failed".
type EventFunc func(job *Job, phase string)

// Worker runs a pool of goroutines draining one queue.
type Worker struct {
	queue       *Queue
	handlers    map[string]Handler
	concurrency int
	idleWait    time.Duration
	logger      *slog.Logger
	onEvent     EventFunc
}

// NewWorker creates a worker pool. Distinct jobs almost always touch
// distinct tenants, so concurrency can be high.
func NewWorker(q *Queue, concurrency int, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Worker{
		queue:       q,
		handlers:    make(map[string]Handler),
		concurrency: concurrency,
		idleWait:    time.Second,
		logger:      logger,
	}
}

// Handle registers the handler for a job type.
func (w *Worker) Handle(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// OnEvent registers a lifecycle observer.
func (w *Worker) OnEvent(fn EventFunc) {
	w.onEvent = fn
}

func (w *Worker) types() []string {
	out := make([]string, 0, len(w.handlers))
	for t := range w.handlers {
		out = append(out, t)
	}
	return out
}

// Run drains the queue until the context is done.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	types := w.types()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Lease(ctx, types)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("leasing job", "error", err)
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	w.emit(job, "leased")
	start := time.Now()

	err := w.invoke(ctx, job)
	if err != nil {
		w.logger.Error("job failed",
			"job", job.ID, "type", job.Type, "project", job.ProjectID,
			"attempt", job.Attempts, "error", err)
		if nerr := w.queue.Nack(ctx, job, err); nerr != nil {
			w.logger.Error("nacking job", "job", job.ID, "error", nerr)
		}
		if job.Attempts >= job.MaxAttempts {
			w.emit(job, "failed")
		} else {
			w.emit(job, "retry")
		}
		return
	}

	if err := w.queue.Ack(ctx, job.ID); err != nil {
		// The handler is idempotent; redelivery after a lost ack is safe.
		w.logger.Error("acking job", "job", job.ID, "error", err)
		return
	}
	w.logger.Info("job done",
		"job", job.ID, "type", job.Type, "project", job.ProjectID,
		"duration", time.Since(start))
	w.emit(job, "done")
}

// invoke runs the handler with panic recovery, so one tenant's broken
// job cannot take the pool down.
func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	h, ok := w.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	return h(ctx, job)
}

func (w *Worker) emit(job *Job, phase string) {
	if w.onEvent != nil {
		w.onEvent(job, phase)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.idleWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
