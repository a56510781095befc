package morph

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the memo comfortably above a news vocabulary.
const DefaultCacheSize = 1 << 16

// Cached memoizes another Lemmatizer by raw token. It is safe for concurrent
// use; two goroutines racing on the same token may both compute it, and the
// first stored result wins.
type Cached struct {
	next  Lemmatizer
	cache *lru.Cache[string, string]

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats is a snapshot of the memo's counters.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Len    int   `json:"len"`
}

// NewCached wraps next with a memo holding up to size tokens.
func NewCached(next Lemmatizer, size int) (*Cached, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create lemma cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

// Lemma returns the memoized lemma of token, computing it on first use.
func (c *Cached) Lemma(token string) string {
	if lemma, ok := c.cache.Get(token); ok {
		c.hits.Add(1)
		return lemma
	}
	c.misses.Add(1)

	lemma := c.next.Lemma(token)
	if found, _ := c.cache.ContainsOrAdd(token, lemma); found {
		if stored, ok := c.cache.Peek(token); ok {
			return stored
		}
	}
	return lemma
}

// Stats reports cache hits, misses and current size.
func (c *Cached) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Len:    c.cache.Len(),
	}
}
