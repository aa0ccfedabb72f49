// Package stats aggregates count/usage deltas emitted by deletion
// callbacks and job completions. The aggregator batches deltas in
// memory; a flusher drains them to the metadata store or a metrics
// pipeline.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Delta is one usage adjustment, keyed like "documents:<collection>".
type Delta struct {
	ProjectID string
	Key       string
	Value     int64
}

// Flusher drains accumulated deltas somewhere durable.
type Flusher func(ctx context.Context, deltas []Delta) error

// Aggregator batches usage deltas and flushes them periodically.
type Aggregator struct {
	mu      sync.Mutex
	pending map[string]*Delta
	flush   Flusher
	logger  *slog.Logger
}

// NewAggregator creates an aggregator; flush may be nil (drop deltas).
func NewAggregator(flush Flusher, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		pending: make(map[string]*Delta),
		flush:   flush,
		logger:  logger,
	}
}

// Add accumulates a delta.
func (a *Aggregator) Add(projectID, key string, value int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := projectID + "/" + key
	if d, ok := a.pending[id]; ok {
		d.Value += value
		return
	}
	a.pending[id] = &Delta{ProjectID: projectID, Key: key, Value: value}
}

// Flush drains pending deltas through the flusher.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	deltas := make([]Delta, 0, len(a.pending))
	for _, d := range a.pending {
		deltas = append(deltas, *d)
	}
	a.pending = make(map[string]*Delta)
	a.mu.Unlock()

	if len(deltas) == 0 || a.flush == nil {
		return nil
	}
	return a.flush(ctx, deltas)
}

// Run flushes on the given interval until the context is done, with a
// final flush on shutdown.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := a.Flush(context.Background()); err != nil {
				a.logger.Error("final stats flush", "error", err)
			}
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Error("stats flush", "error", err)
			}
		}
	}
}
