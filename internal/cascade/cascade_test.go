package cascade

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/plinthdb/plinth/internal/errs"
)

type fakeDoc struct{ id string }

func (d fakeDoc) DocID() string { return d.id }

// fakeGroup is a cursor-paged in-memory document group.
type fakeGroup struct {
	docs    []fakeDoc
	fetches int
	failIDs map[string]error
}

func newFakeGroup(n int) *fakeGroup {
	g := &fakeGroup{failIDs: map[string]error{}}
	for i := 0; i < n; i++ {
		g.docs = append(g.docs, fakeDoc{id: docID(i)})
	}
	return g
}

func docID(i int) string {
	// zero-padded so lexicographic cursor order matches insertion order
	return string([]byte{'d', byte('0' + i/100), byte('0' + (i/10)%10), byte('0' + i%10)})
}

func (g *fakeGroup) fetch(_ context.Context, limit int, after string) ([]fakeDoc, error) {
	g.fetches++
	var out []fakeDoc
	for _, d := range g.docs {
		if after != "" && d.id <= after {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *fakeGroup) delete(_ context.Context, doc fakeDoc) error {
	if err, ok := g.failIDs[doc.id]; ok {
		return err
	}
	for i, d := range g.docs {
		if d.id == doc.id {
			g.docs = append(g.docs[:i], g.docs[i+1:]...)
			return nil
		}
	}
	return errs.NotFound("document %s not found", doc.id)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeleteByGroupCompleteness(t *testing.T) {
	for _, n := range []int{0, 1, 500} {
		g := newFakeGroup(n)
		deleted, err := DeleteByGroup(context.Background(), discard(), g.fetch, g.delete, 100, nil)
		if err != nil {
			t.Fatalf("n=%d: DeleteByGroup: %v", n, err)
		}
		if deleted != n {
			t.Errorf("n=%d: deleted %d", n, deleted)
		}
		if len(g.docs) != 0 {
			t.Errorf("n=%d: %d documents left", n, len(g.docs))
		}
	}
}

func TestDeleteByGroupCrossesBatchBoundaries(t *testing.T) {
	g := newFakeGroup(500)
	deleted, err := DeleteByGroup(context.Background(), discard(), g.fetch, g.delete, 100, nil)
	if err != nil {
		t.Fatalf("DeleteByGroup: %v", err)
	}
	if deleted != 500 {
		t.Errorf("deleted %d, want 500", deleted)
	}
	// 5 full pages plus the final short page that ends the loop.
	if g.fetches != 6 {
		t.Errorf("fetches = %d, want 6", g.fetches)
	}
}

func TestDeleteByGroupSkipsConcurrentFailures(t *testing.T) {
	g := newFakeGroup(10)
	g.failIDs[docID(3)] = errs.NotFound("already gone")
	g.failIDs[docID(7)] = errs.Authorization("denied")

	deleted, err := DeleteByGroup(context.Background(), discard(), g.fetch, g.delete, 4, nil)
	if err != nil {
		t.Fatalf("DeleteByGroup: %v", err)
	}
	if deleted != 8 {
		t.Errorf("deleted %d, want 8", deleted)
	}
	if len(g.docs) != 2 {
		t.Errorf("%d documents left, want the 2 skipped", len(g.docs))
	}
}

func TestDeleteByGroupFatalOnStorageError(t *testing.T) {
	g := newFakeGroup(10)
	g.failIDs[docID(5)] = errs.Transient("pool exhausted")

	_, err := DeleteByGroup(context.Background(), discard(), g.fetch, g.delete, 4, nil)
	if err == nil {
		t.Fatal("expected storage error to abort the batch")
	}
	if errs.KindOf(err) != errs.KindTransient {
		t.Errorf("expected transient kind, got %v", err)
	}
}

func TestDeleteByGroupCallback(t *testing.T) {
	g := newFakeGroup(7)
	var got []string
	_, err := DeleteByGroup(context.Background(), discard(), g.fetch, g.delete, 3, func(d fakeDoc) {
		got = append(got, d.id)
	})
	if err != nil {
		t.Fatalf("DeleteByGroup: %v", err)
	}
	if len(got) != 7 {
		t.Errorf("callback fired %d times, want 7", len(got))
	}
	if !sort.StringsAreSorted(got) {
		t.Errorf("expected cursor order, got %v", got)
	}
}

func TestListByGroup(t *testing.T) {
	g := newFakeGroup(250)
	var seen []string
	n, err := ListByGroup(context.Background(), g.fetch, func(_ context.Context, d fakeDoc) error {
		seen = append(seen, d.id)
		return nil
	}, 100)
	if err != nil {
		t.Fatalf("ListByGroup: %v", err)
	}
	if n != 250 || len(seen) != 250 {
		t.Errorf("visited %d/%d, want 250", n, len(seen))
	}
	if len(g.docs) != 250 {
		t.Error("ListByGroup must not delete")
	}
}
