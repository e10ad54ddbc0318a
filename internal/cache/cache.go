// Package cache is the Redis-backed KV response cache for the edgebb API:
// it stores whole rendered flat-file pages (.dat bodies, subject.txt, kako
// objects) so hot threads do not hit the repository on every client poll.
//
// The unit of storage is a Page - status, content type, headers and the raw
// Shift_JIS body bytes. Bodies are not valid UTF-8, so they are carried as
// []byte (base64 inside the stored JSON envelope) rather than strings; a
// generic string-valued cache would corrupt them.
//
// A Cache built with Enabled=false is a no-op: GetPage always misses and
// SetPage silently drops, so callers never branch on availability.
//
// Thread Safety:
// - The Redis client is safe for concurrent use across goroutines.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Page is one cached flat-file response.
type Page struct {
	StatusCode  int               `json:"status_code"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers"`
	Body        []byte            `json:"body"`
}

// Cache stores rendered pages in Redis.
type Cache struct {
	client *redis.Client
}

// Config holds cache configuration
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// NewCache connects the page cache. A disabled config yields the no-op
// client.
func NewCache(config Config) (*Cache, error) {
	if !config.Enabled {
		return &Cache{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,

		// Pages are small (a full 1000-response DAT is ~500KB, most are far
		// below that) and reads dominate, so a modest pool with short
		// timeouts beats queueing behind a slow cache.
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsEnabled reports whether a Redis client is attached.
func (c *Cache) IsEnabled() bool {
	return c.client != nil
}

// GetPage fetches a cached page. A miss (or a disabled cache) is (nil, nil);
// only transport trouble is an error.
func (c *Cache) GetPage(ctx context.Context, key string) (*Page, error) {
	if !c.IsEnabled() {
		return nil, nil
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page %s: %w", key, err)
	}

	page := &Page{}
	if err := json.Unmarshal(raw, page); err != nil {
		// A corrupt envelope is treated as a miss; the next SetPage
		// overwrites it.
		return nil, nil
	}
	return page, nil
}

// SetPage stores a page for ttl. Disabled caches silently drop the write.
func (c *Cache) SetPage(ctx context.Context, key string, page *Page, ttl time.Duration) error {
	if !c.IsEnabled() {
		return nil
	}

	raw, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set page %s: %w", key, err)
	}
	return nil
}

// InvalidateBoard drops the keys of one board that match BoardPattern (the
// DatKey/KakoKey/SubjectKey families). Pages stored by PageCache are keyed by
// a hash of the request URI, carry no board key, and are not matched.
// Used by operational tooling after moderation edits; the write path itself
// relies on TTLs only.
func (c *Cache) InvalidateBoard(ctx context.Context, boardKey string) error {
	if !c.IsEnabled() {
		return nil
	}

	iter := c.client.Scan(ctx, 0, BoardPattern(boardKey), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan pages for board %s: %w", boardKey, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to drop pages for board %s: %w", boardKey, err)
	}
	return nil
}
