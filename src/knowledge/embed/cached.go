package embed

import (
	"context"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/cache"
)

// CachedEmbedder memoizes provider calls. Entity names repeat heavily across
// turns, so the hit rate is high in practice.
type CachedEmbedder struct {
	inner Embedder
	cache *cache.VectorCache
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps an embedder with an LRU vector cache.
func NewCachedEmbedder(inner Embedder, capacity int, ttl time.Duration) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 2048
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedEmbedder{
		inner: inner,
		cache: cache.NewVectorCache(capacity, ttl),
	}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.HashKey(text)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, vec)
	return vec, nil
}
