package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// ValidatorCache remembers ETag/Last-Modified per URL.
type ValidatorCache struct {
	doc *Document[map[string]stock.CacheValidators]
}

// NewValidatorCache returns a cache backed by path.
func NewValidatorCache(path string, logger *zap.Logger) *ValidatorCache {
	return &ValidatorCache{doc: NewDocument[map[string]stock.CacheValidators](path, logger)}
}

// Load returns the cached validators; missing or corrupt files yield an empty
// map.
func (c *ValidatorCache) Load(_ context.Context) map[string]stock.CacheValidators {
	cache, _ := c.doc.Read()
	if cache == nil {
		cache = make(map[string]stock.CacheValidators)
	}
	return cache
}

// Save atomically writes the cache. Entries without any validator are
// dropped.
func (c *ValidatorCache) Save(_ context.Context, cache map[string]stock.CacheValidators) error {
	out := make(map[string]stock.CacheValidators, len(cache))
	for url, v := range cache {
		if !v.IsZero() {
			out[url] = v
		}
	}
	return c.doc.Write(out)
}
