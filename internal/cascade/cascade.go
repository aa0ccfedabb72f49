// Package cascade implements the bounded-batch delete-everything-
// matching-a-predicate primitive used by schema teardown, entity
// teardown, and retention sweeps.
package cascade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plinthdb/plinth/internal/errs"
)

// DefaultBatchSize bounds one page of a deletion or listing sweep.
const DefaultBatchSize = 100

// Identifiable is the minimal document shape the engine pages over.
type Identifiable interface {
	DocID() string
}

// FetchPage returns up to limit documents matching the caller's group
// predicate. after is the id of the last document of the previous page
// ("" for the first page); cursor-style fetchers resume past it, while
// offset-style fetchers may ignore it and refetch from the start
// (correct only because deleted documents drop out of the result).
// Cursor paging is preferred where available, so documents skipped in
// a prior page are not revisited forever.
type FetchPage[T Identifiable] func(ctx context.Context, limit int, after string) ([]T, error)

// DeleteDoc removes one document.
type DeleteDoc[T Identifiable] func(ctx context.Context, doc T) error

// VisitDoc inspects one document during a listing sweep.
type VisitDoc[T Identifiable] func(ctx context.Context, doc T) error

// DeleteByGroup repeatedly fetches a page of matching documents and
// deletes each one, invoking onDeleted per removed document, until a
// page comes back short. Individual deletes that fail with a
// concurrency or authorization error are logged and skipped; any other
// per-document failure aborts the sweep. Returns the number deleted.
func DeleteByGroup[T Identifiable](ctx context.Context, logger *slog.Logger, fetch FetchPage[T], del DeleteDoc[T], batchSize int, onDeleted func(T)) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	deleted := 0
	after := ""
	for {
		docs, err := fetch(ctx, batchSize, after)
		if err != nil {
			return deleted, fmt.Errorf("fetching deletion batch: %w", err)
		}
		for _, doc := range docs {
			after = doc.DocID()
			if err := del(ctx, doc); err != nil {
				if skippable(err) {
					logger.Warn("skipping document in deletion batch",
						"id", doc.DocID(), "error", err)
					continue
				}
				return deleted, fmt.Errorf("deleting document %s: %w", doc.DocID(), err)
			}
			deleted++
			if onDeleted != nil {
				onDeleted(doc)
			}
		}
		if len(docs) < batchSize {
			return deleted, nil
		}
	}
}

// ListByGroup pages through matching documents without deleting them,
// for inspect-and-conditionally-act sweeps. The visit callback may
// delete documents itself; cursor paging keeps the sweep stable either
// way.
func ListByGroup[T Identifiable](ctx context.Context, fetch FetchPage[T], visit VisitDoc[T], batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	seen := 0
	after := ""
	for {
		docs, err := fetch(ctx, batchSize, after)
		if err != nil {
			return seen, fmt.Errorf("fetching listing batch: %w", err)
		}
		for _, doc := range docs {
			after = doc.DocID()
			if err := visit(ctx, doc); err != nil {
				return seen, err
			}
			seen++
		}
		if len(docs) < batchSize {
			return seen, nil
		}
	}
}

// skippable reports whether a per-document delete failure should be
// logged and skipped rather than aborting the batch. Concurrent
// deletion (the document vanished) and authorization denials qualify;
// storage faults do not.
func skippable(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindNotFound, errs.KindConflict, errs.KindAuthorization:
		return true
	}
	return false
}
