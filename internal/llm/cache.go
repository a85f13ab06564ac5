// internal/llm/cache.go
package llm

import (
	"container/list"
	"context"
	"sync"
)

// embeddingCache is an LRU cache for embeddings keyed by text.
type embeddingCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float64
}

func newEmbeddingCache(capacity int) *embeddingCache {
	return &embeddingCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (c *embeddingCache) Get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

func (c *embeddingCache) Set(key string, value []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	entry := &cacheEntry{key: key, value: value}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

func (c *embeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CachedEmbedder wraps an Embedder with a bounded in-process LRU. Cache hits
// bill zero tokens.
type CachedEmbedder struct {
	inner Embedder
	cache *embeddingCache
}

func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 512
	}
	return &CachedEmbedder{
		inner: inner,
		cache: newEmbeddingCache(capacity),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, int, error) {
	if vec, ok := c.cache.Get(text); ok {
		return vec, 0, nil
	}
	vec, tokens, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, 0, err
	}
	c.cache.Set(text, vec)
	return vec, tokens, nil
}

// EmbedBatch serves hits from the cache and embeds only the misses, keeping
// input order in the merged result.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	result := &BatchResult{Vectors: make([][]float64, len(texts))}

	missTexts := make([]string, 0, len(texts))
	missIdx := make([]int, 0, len(texts))
	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			result.Vectors[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	fetched, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	result.TokensUsed = fetched.TokensUsed

	for j, vec := range fetched.Vectors {
		result.Vectors[missIdx[j]] = vec
		c.cache.Set(missTexts[j], vec)
	}
	return result, nil
}

// CacheLen reports how many embeddings are cached, for tests and diagnostics.
func (c *CachedEmbedder) CacheLen() int {
	return c.cache.Len()
}
