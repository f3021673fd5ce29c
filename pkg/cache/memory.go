package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryItem stores a cached value with expiration. Lists live in List.
type MemoryItem struct {
	Value    string
	List     []string
	ExpireAt time.Time
}

// IsExpired checks if item has expired. A zero ExpireAt never expires.
func (m *MemoryItem) IsExpired(now time.Time) bool {
	return !m.ExpireAt.IsZero() && now.After(m.ExpireAt)
}

// MemoryCache implements Service using in-memory storage with LRU eviction for plain keys.
type MemoryCache struct {
	data          map[string]*MemoryItem
	lists         map[string]*MemoryItem
	access        map[string]time.Time
	mutex         sync.Mutex
	maxSize       int
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
	now           func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:          make(map[string]*MemoryItem),
		lists:         make(map[string]*MemoryItem),
		access:        make(map[string]time.Time),
		maxSize:       cfg.MaxSize,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
		now:           time.Now,
	}

	go mc.cleanupExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}

	now := mc.now()
	item := &MemoryItem{Value: raw}
	if expiration > 0 {
		item.ExpireAt = now.Add(expiration)
	}
	mc.data[key] = item
	mc.access[key] = now
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	now := mc.now()
	item, exists := mc.data[key]
	if !exists || item.IsExpired(now) {
		if exists {
			delete(mc.data, key)
			delete(mc.access, key)
		}
		mc.mutex.Unlock()
		return ErrCacheMiss
	}
	mc.access[key] = now
	raw := item.Value
	mc.mutex.Unlock()

	return decodeValue(raw, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
		delete(mc.lists, key)
		delete(mc.access, key)
	}
	return nil
}

// DeleteByPattern supports the trailing-wildcard patterns produced by BuildPattern.
func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	exact := prefix == pattern

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	match := func(key string) bool {
		if exact {
			return key == pattern
		}
		return strings.HasPrefix(key, prefix)
	}
	for key := range mc.data {
		if match(key) {
			delete(mc.data, key)
			delete(mc.access, key)
		}
	}
	for key := range mc.lists {
		if match(key) {
			delete(mc.lists, key)
		}
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	for _, key := range keys {
		if item, ok := mc.data[key]; ok && !item.IsExpired(now) {
			return true, nil
		}
		if item, ok := mc.lists[key]; ok && !item.IsExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) Expire(_ context.Context, key string, expiration time.Duration) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	for _, m := range []map[string]*MemoryItem{mc.data, mc.lists} {
		if item, ok := m[key]; ok && !item.IsExpired(now) {
			item.ExpireAt = now.Add(expiration)
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	if item, ok := mc.data[key]; ok && !item.IsExpired(now) {
		return false, nil
	}

	mc.data[key] = &MemoryItem{Value: "locked", ExpireAt: now.Add(ttl)}
	mc.access[key] = now
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// ListPush prepends values like LPUSH: the last value ends up at the head.
func (mc *MemoryCache) ListPush(_ context.Context, key string, values ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item, ok := mc.lists[key]
	if !ok || item.IsExpired(mc.now()) {
		item = &MemoryItem{}
		mc.lists[key] = item
	}
	head := make([]string, 0, len(values)+len(item.List))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	item.List = append(head, item.List...)
	return nil
}

func (mc *MemoryCache) ListTrim(_ context.Context, key string, start, stop int64) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item, ok := mc.lists[key]
	if !ok {
		return nil
	}
	from, to, ok := listBounds(len(item.List), start, stop)
	if !ok {
		delete(mc.lists, key)
		return nil
	}
	item.List = append([]string(nil), item.List[from:to]...)
	return nil
}

func (mc *MemoryCache) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item, ok := mc.lists[key]
	if !ok || item.IsExpired(mc.now()) {
		return []string{}, nil
	}
	from, to, ok := listBounds(len(item.List), start, stop)
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), item.List[from:to]...), nil
}

func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, accessTime := range mc.access {
		if oldestKey == "" || accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		delete(mc.access, oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.cleanupTicker.C:
		}

		mc.mutex.Lock()
		now := mc.now()
		for key, item := range mc.data {
			if item.IsExpired(now) {
				delete(mc.data, key)
				delete(mc.access, key)
			}
		}
		for key, item := range mc.lists {
			if item.IsExpired(now) {
				delete(mc.lists, key)
			}
		}
		mc.mutex.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}

var _ Service = (*MemoryCache)(nil)
