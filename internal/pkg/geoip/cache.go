package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DefaultMaxEntries bounds the in-process cache.
const DefaultMaxEntries = 10000

// Cache stores resolved locations with a per-entry expiry.
type Cache interface {
	Get(ctx context.Context, key string) (Location, bool, error)
	Set(ctx context.Context, key string, loc Location, ttl time.Duration) error
}

// StoreCache keeps JSON-encoded locations in a cartridge cache store. The
// store drops expired entries in the background.
type StoreCache struct {
	store cache.Store
}

// NewStoreCache wraps store.
func NewStoreCache(store cache.Store) *StoreCache {
	return &StoreCache{store: store}
}

// NewMemoryCache creates a process-local cache holding at most maxEntries
// locations, oldest evicted first. maxEntries <= 0 means DefaultMaxEntries.
func NewMemoryCache(maxEntries int64) *StoreCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return NewStoreCache(cache.NewMemoryStore(
		cache.WithTTL(24*time.Hour),
		cache.WithMaxEntries(maxEntries),
	))
}

// NewDBCache creates a cache in the main database, so locations survive
// restarts without extra infrastructure.
func NewDBCache(db *gorm.DB) (*StoreCache, error) {
	store, err := cache.NewDatabaseStore(db, cache.WithTTL(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("open database geo cache: %w", err)
	}
	return NewStoreCache(store), nil
}

// Get implements Cache.
func (c *StoreCache) Get(ctx context.Context, key string) (Location, bool, error) {
	data, ok := c.store.Read(ctx, key)
	if !ok {
		return Location{}, false, nil
	}
	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return Location{}, false, fmt.Errorf("decode cached location: %w", err)
	}
	return loc, true, nil
}

// Set implements Cache.
func (c *StoreCache) Set(ctx context.Context, key string, loc Location, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return c.store.WriteWithTTL(ctx, key, data, ttl)
}

// Stats reports the size of the underlying store.
func (c *StoreCache) Stats(ctx context.Context) cache.Stats {
	return c.store.Stats(ctx)
}

// Close stops the store's cleanup goroutine.
func (c *StoreCache) Close() error {
	if closer, ok := c.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// RedisCache shares resolved locations between processes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to url (redis://host:port/db) and pings it.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (Location, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, err
	}
	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return Location{}, false, fmt.Errorf("decode cached location: %w", err)
	}
	return loc, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, loc Location, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
