// Package cache holds small key/value state the agent keeps between runs,
// such as the time and id of the last delivered post.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache is a string key/value store without expiry.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// LastPostKey is the key holding an agent's last delivered post.
func LastPostKey(agentID string) string {
	return "last_post:" + agentID
}

// LastPost is the value stored under LastPostKey.
type LastPost struct {
	ID        string    `json:"id"`
	Permalink string    `json:"permalink"`
	Timestamp time.Time `json:"timestamp"`
}

// KV is the subset of the store the SQLite backend needs.
type KV interface {
	CacheGet(key string) (string, bool, error)
	CacheSet(key, value string) error
}

// StoreCache keeps entries in the SQLite cache_entries table.
type StoreCache struct {
	kv KV
}

// NewStoreCache wraps kv.
func NewStoreCache(kv KV) *StoreCache {
	return &StoreCache{kv: kv}
}

func (c *StoreCache) Get(_ context.Context, key string) (string, bool, error) {
	return c.kv.CacheGet(key)
}

func (c *StoreCache) Set(_ context.Context, key, value string) error {
	return c.kv.CacheSet(key, value)
}

// RedisCache keeps entries in Redis under a key prefix.
type RedisCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisCache wraps client. Keys are stored as prefix+key.
func NewRedisCache(client goredis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string) error {
	if err := c.client.Set(ctx, c.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
