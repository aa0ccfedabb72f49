// Package cache defines the key-based document cache the engines purge
// when schema jobs complete, plus an in-process TTL implementation.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Cache is the collaborator interface: get/set/purge by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Purge(ctx context.Context, key string)
}

// CollectionKey is the cache key for a tenant collection's schema.
func CollectionKey(projectID, collectionID string) string {
	return fmt.Sprintf("collection:%s:%s", projectID, collectionID)
}

// DocumentKey is the cache key for a single document.
func DocumentKey(projectID, collectionID, documentID string) string {
	return fmt.Sprintf("document:%s:%s:%s", projectID, collectionID, documentID)
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process TTL cache.
type Memory struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]entry
}

// NewMemory creates a memory cache with the given entry TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, m: make(map[string]entry)}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *Memory) Set(_ context.Context, key string, value []byte) {
	c.mu.Lock()
	c.m[key] = entry{value: value, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Memory) Purge(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}
