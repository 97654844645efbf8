package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"flagengine/entity"

	"github.com/redis/go-redis/v9"
)

// FlagCache sits in front of the flag store to cut lookup latency on the
// evaluation path. Entries are invalidated synchronously on every
// successful admin commit, so the administrator who just changed a flag
// reads their own write; other readers may see an entry up to the TTL old.
type FlagCache interface {
	Get(ctx context.Context, key string) (*entity.FeatureFlag, bool, error)
	Set(ctx context.Context, flag *entity.FeatureFlag) error
	Invalidate(ctx context.Context, key string) error
}

// NoopFlagCache is used when Redis is not configured; every lookup misses
type NoopFlagCache struct{}

func NewNoopFlagCache() *NoopFlagCache {
	return &NoopFlagCache{}
}

func (c *NoopFlagCache) Get(context.Context, string) (*entity.FeatureFlag, bool, error) {
	return nil, false, nil
}

func (c *NoopFlagCache) Set(context.Context, *entity.FeatureFlag) error {
	return nil
}

func (c *NoopFlagCache) Invalidate(context.Context, string) error {
	return nil
}

type memoryCacheEntry struct {
	flag      entity.FeatureFlag
	expiresAt time.Time
}

// InMemoryFlagCache is a process-local cache for single-instance
// deployments and tests
type InMemoryFlagCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryCacheEntry
}

func NewInMemoryFlagCache(ttl time.Duration) *InMemoryFlagCache {
	return &InMemoryFlagCache{ttl: ttl, entries: map[string]memoryCacheEntry{}}
}

func (c *InMemoryFlagCache) Get(_ context.Context, key string) (*entity.FeatureFlag, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	flag := entry.flag
	flag.Whitelist = append([]string(nil), entry.flag.Whitelist...)
	return &flag, true, nil
}

func (c *InMemoryFlagCache) Set(_ context.Context, flag *entity.FeatureFlag) error {
	if c.ttl <= 0 {
		return nil
	}
	stored := *flag
	stored.Whitelist = append([]string(nil), flag.Whitelist...)
	c.mu.Lock()
	c.entries[flag.FlagKey] = memoryCacheEntry{flag: stored, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *InMemoryFlagCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

type RedisFlagCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisFlagCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisFlagCache {
	if prefix == "" {
		prefix = "flag_cache"
	}
	return &RedisFlagCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisFlagCache) Get(ctx context.Context, key string) (*entity.FeatureFlag, bool, error) {
	data, err := c.client.Get(ctx, c.cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read flag cache: %w", err)
	}

	var flag entity.FeatureFlag
	if err := json.Unmarshal(data, &flag); err != nil {
		// A corrupt entry is treated as a miss; the store is authoritative.
		return nil, false, nil
	}
	return &flag, true, nil
}

func (c *RedisFlagCache) Set(ctx context.Context, flag *entity.FeatureFlag) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("failed to marshal flag for cache: %w", err)
	}
	if err := c.client.Set(ctx, c.cacheKey(flag.FlagKey), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write flag cache: %w", err)
	}
	return nil
}

func (c *RedisFlagCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate flag cache: %w", err)
	}
	return nil
}

func (c *RedisFlagCache) cacheKey(key string) string {
	return c.prefix + ":" + key
}
