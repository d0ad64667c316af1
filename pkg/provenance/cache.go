// SPDX-License-Identifier: Apache-2.0

package provenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

// cacheEntry wraps an existence answer with the time it was observed
type cacheEntry struct {
	exists    bool
	timestamp time.Time
}

// CachingResolver wraps a Resolver with an LRU cache so listing many clones
// of the same parent dereferences the parent once. Errors are never cached.
type CachingResolver struct {
	resolver Resolver
	cache    *lru.Cache[string, *cacheEntry]
	ttl      time.Duration
	clock    clock.PassiveClock
	mu       sync.Mutex
}

// CacheOption configures a CachingResolver.
type CacheOption func(*CachingResolver)

// WithCacheClock sets the clock entries are aged with.
func WithCacheClock(c clock.PassiveClock) CacheOption {
	return func(r *CachingResolver) { r.clock = c }
}

// NewCachingResolver creates a new caching resolver
func NewCachingResolver(resolver Resolver, ttl time.Duration, size int, opts ...CacheOption) (*CachingResolver, error) {
	cache, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver cache: %w", err)
	}
	r := &CachingResolver{
		resolver: resolver,
		cache:    cache,
		ttl:      ttl,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *CachingResolver) lookup(key string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache.Get(key)
	if !ok || r.clock.Since(entry.timestamp) > r.ttl {
		return false, false
	}
	return entry.exists, true
}

func (r *CachingResolver) store(key string, exists bool) {
	r.mu.Lock()
	r.cache.Add(key, &cacheEntry{exists: exists, timestamp: r.clock.Now()})
	r.mu.Unlock()
}

// Forget drops every cached answer.
func (r *CachingResolver) Forget() {
	r.mu.Lock()
	r.cache.Purge()
	r.mu.Unlock()
}

// VolumeExists implements Resolver
func (r *CachingResolver) VolumeExists(ctx context.Context, scope, name string) (bool, error) {
	key := "volume/" + scope + "/" + name
	if exists, ok := r.lookup(key); ok {
		klog.V(4).Infof("Resolver cache hit: %s", key)
		return exists, nil
	}

	exists, err := r.resolver.VolumeExists(ctx, scope, name)
	if err != nil {
		return false, err
	}
	r.store(key, exists)
	return exists, nil
}

// SnapshotExists implements Resolver
func (r *CachingResolver) SnapshotExists(ctx context.Context, scope, volume, name string) (bool, error) {
	key := "snapshot/" + scope + "/" + volume + "/" + name
	if exists, ok := r.lookup(key); ok {
		klog.V(4).Infof("Resolver cache hit: %s", key)
		return exists, nil
	}

	exists, err := r.resolver.SnapshotExists(ctx, scope, volume, name)
	if err != nil {
		return false, err
	}
	r.store(key, exists)
	return exists, nil
}
