// Package stockcache remembers successful stock validations for a short
// window so payment intents can reference them.
package stockcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
)

var ErrNotFound = errors.New("stock validation not found")

// Entry is what is cached under a validation id.
type Entry struct {
	Results     []contract.StockResult `json:"results"`
	ValidatedAt time.Time              `json:"validated_at"`
}

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Put stores the results of a successful validation under id.
func (c *Cache) Put(ctx context.Context, id string, results []contract.StockResult) error {
	data, err := json.Marshal(Entry{Results: results, ValidatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal stock validation: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(id), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get returns the entry for id, or ErrNotFound once it has expired.
func (c *Cache) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal stock validation: %w", err)
	}
	return &e, nil
}

// Exists reports whether id is still cached.
func (c *Cache) Exists(ctx context.Context, id string) (bool, error) {
	n, err := c.client.Exists(ctx, cacheKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func cacheKey(id string) string {
	return fmt.Sprintf("stock_validation:%s", id)
}
