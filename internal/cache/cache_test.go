package cache

import (
	"context"
	"testing"
	"time"
)

func TestSetGetPurge(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set(ctx, "k", []byte("v"))
	got, ok := c.Get(ctx, "k")
	if !ok || string(got) != "v" {
		t.Fatalf("expected hit with v, got %q (%v)", got, ok)
	}

	c.Purge(ctx, "k")
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after purge")
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c := NewMemory(-time.Second)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"))
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestKeys(t *testing.T) {
	if got := CollectionKey("p1", "c1"); got != "collection:p1:c1" {
		t.Errorf("CollectionKey: %s", got)
	}
	if got := DocumentKey("p1", "c1", "d1"); got != "document:p1:c1:d1" {
		t.Errorf("DocumentKey: %s", got)
	}
}
