package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// DocumentCache stores fetched documents by URL.
type DocumentCache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Set(ctx context.Context, url string, body []byte) error
}

// MemoryCache is an in-process LRU whose entries expire after a TTL.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache builds a cache holding at most size documents for ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns the cached document for url, if present and unexpired.
func (c *MemoryCache) Get(_ context.Context, url string) ([]byte, bool, error) {
	body, ok := c.lru.Get(url)
	return body, ok, nil
}

// Set stores body under url.
func (c *MemoryCache) Set(_ context.Context, url string, body []byte) error {
	c.lru.Add(url, body)
	return nil
}

// RedisCache shares fetched documents between runs through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to the Redis instance at redisURL. Entries expire
// after ttl, which must be positive.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis cache ttl must be positive, got %s", ttl)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{
		client: redis.NewClient(opts),
		ttl:    ttl,
		prefix: "etl:document:",
	}, nil
}

// Get returns the cached document for url. A missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	body, err := c.client.Get(ctx, c.prefix+url).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Set stores body under url with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, url string, body []byte) error {
	return c.client.Set(ctx, c.prefix+url, body, c.ttl).Err()
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
