package usecase

import (
	"sync"

	domsvc "FinCast/internal/domain/service"
)

// ModelCache holds deserialized, ready-to-predict models by id. Entries are removed
// explicitly; there is no eviction policy.
type ModelCache struct {
	mu     sync.RWMutex
	models map[string]domsvc.Model
}

func NewModelCache() *ModelCache {
	return &ModelCache{models: make(map[string]domsvc.Model)}
}

func (c *ModelCache) Get(id string) (domsvc.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// Put inserts or swaps the instance for id.
func (c *ModelCache) Put(id string, m domsvc.Model) {
	c.mu.Lock()
	c.models[id] = m
	c.mu.Unlock()
}

func (c *ModelCache) Delete(id string) {
	c.mu.Lock()
	delete(c.models, id)
	c.mu.Unlock()
}

func (c *ModelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}

func (c *ModelCache) Clear() {
	c.mu.Lock()
	c.models = make(map[string]domsvc.Model)
	c.mu.Unlock()
}
