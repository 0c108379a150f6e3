package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"
)

// Cached wraps an Embedder with an in-process vector cache. Retrieval
// recomputes the query vector once per (model, text); a cache miss just
// recomputes, so cached and uncached output are identical.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache[string, Vector]
}

// NewCached wraps inner with a ristretto cache sized for roughly
// maxEntries query vectors.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Vector]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	key := c.inner.Model() + "\x00" + text
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

func (c *Cached) Dims() int     { return c.inner.Dims() }
func (c *Cached) Model() string { return c.inner.Model() }

// Close releases the cache resources.
func (c *Cached) Close() { c.cache.Close() }
