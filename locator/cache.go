package locator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/telemetry"
)

type cacheEntry struct {
	stream  platform.ResolvedStream
	expires time.Time
}

// resolveCache holds successful resolutions. Live entries expire after liveTTL since
// liveness flips; ended entries after endedTTL. Concurrent misses on one key share a call.
type resolveCache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	group    singleflight.Group
	liveTTL  time.Duration
	endedTTL time.Duration
	now      func() time.Time
}

func newResolveCache(liveTTL, endedTTL time.Duration, now func() time.Time) *resolveCache {
	return &resolveCache{
		entries:  make(map[string]cacheEntry),
		liveTTL:  liveTTL,
		endedTTL: endedTTL,
		now:      now,
	}
}

func (c *resolveCache) get(key string) (platform.ResolvedStream, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return platform.ResolvedStream{}, false
	}
	return e.stream, true
}

func (c *resolveCache) put(key string, s platform.ResolvedStream) {
	ttl := c.endedTTL
	if s.IsLive {
		ttl = c.liveTTL
	}
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{stream: s, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// purge drops expired entries.
func (c *resolveCache) purge() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// do returns the cached value for key or runs fetch once for all concurrent callers.
// fetch runs detached from the caller's cancellation; a canceled caller stops waiting
// and the result still lands in the cache for the next one.
func (c *resolveCache) do(ctx context.Context, key string, fetch func(context.Context) (platform.ResolvedStream, error)) (platform.ResolvedStream, error) {
	if s, ok := c.get(key); ok {
		telemetry.IncCacheLookup(true)
		return s, nil
	}
	telemetry.IncCacheLookup(false)
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if s, ok := c.get(key); ok {
			return s, nil
		}
		s, err := fetch(detached)
		if err != nil {
			return platform.ResolvedStream{}, err
		}
		c.put(key, s)
		return s, nil
	})
	select {
	case <-ctx.Done():
		return platform.ResolvedStream{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return platform.ResolvedStream{}, res.Err
		}
		return res.Val.(platform.ResolvedStream), nil
	}
}
