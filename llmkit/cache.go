package llmkit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ResponseCache memoizes Complete responses keyed by a hash of the exact
// request (messages, tools, and parameters). Concurrent callers with an
// identical key share one in-flight provider call via singleflight
// instead of issuing duplicates.
type ResponseCache struct {
	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]*Response
	maxSize int
}

// NewResponseCache creates a ResponseCache holding at most maxSize
// responses (0 means unbounded).
func NewResponseCache(maxSize int) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]*Response),
		maxSize: maxSize,
	}
}

// Key computes the cache key for a request. The key covers everything
// that affects the provider's answer.
func (c *ResponseCache) Key(req Request) string {
	// Request serializes deterministically: struct field order is fixed
	// and map-typed schema parameters are sorted by encoding/json.
	raw, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Len returns the number of cached responses.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Middleware returns a client Middleware serving Complete calls from the
// cache.
func (c *ResponseCache) Middleware() Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		key := c.Key(req)
		if key == "" {
			return next(ctx, req)
		}

		c.mu.RLock()
		cached, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		v, err, _ := c.group.Do(key, func() (any, error) {
			resp, err := next(ctx, req)
			if err != nil {
				return nil, err
			}
			c.store(key, resp)
			return resp, nil
		})
		if err != nil {
			return nil, err
		}
		return v.(*Response), nil
	}
}

func (c *ResponseCache) store(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		// Evict an arbitrary entry; the cache is a dedupe aid, not an
		// LRU, and staying bounded matters more than eviction order.
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = resp
}
