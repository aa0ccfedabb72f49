package stats

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddCoalescesByProjectAndKey(t *testing.T) {
	var flushed []Delta
	a := NewAggregator(func(ctx context.Context, deltas []Delta) error {
		flushed = deltas
		return nil
	}, discardLogger())

	a.Add("p1", "documents", 2)
	a.Add("p1", "documents", 3)
	a.Add("p1", "indexes", -1)
	a.Add("p2", "documents", 1)

	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(flushed) != 3 {
		t.Fatalf("expected 3 coalesced deltas, got %d", len(flushed))
	}
	sort.Slice(flushed, func(i, j int) bool {
		return flushed[i].ProjectID+flushed[i].Key < flushed[j].ProjectID+flushed[j].Key
	})
	if flushed[0].Value != 5 {
		t.Errorf("expected p1/documents to accumulate to 5, got %d", flushed[0].Value)
	}
	if flushed[1].Value != -1 {
		t.Errorf("expected p1/indexes -1, got %d", flushed[1].Value)
	}
}

func TestFlushDrainsPending(t *testing.T) {
	calls := 0
	a := NewAggregator(func(ctx context.Context, deltas []Delta) error {
		calls++
		return nil
	}, discardLogger())

	a.Add("p1", "documents", 1)
	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// Nothing pending now, so the flusher must not run again.
	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 flusher call, got %d", calls)
	}
}

func TestNilFlusherDropsDeltas(t *testing.T) {
	a := NewAggregator(nil, discardLogger())
	a.Add("p1", "documents", 1)
	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
