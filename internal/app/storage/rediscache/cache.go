// Package rediscache stores validated enrichment bundles in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/storage"
)

const keyPrefix = "discovery:enrichment:"

// Cache implements storage.EnrichmentCache on a Redis client.
type Cache struct {
	client redis.UniversalClient
}

var _ storage.EnrichmentCache = (*Cache)(nil)

// Options mirrors the subset of redis.Options the service configures.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New dials nothing; the client connects lazily on first command.
func New(opts Options) *Cache {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}))
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) GetEnrichment(ctx context.Context, key string) (discovery.Enrichment, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return discovery.Enrichment{}, false, nil
	}
	if err != nil {
		return discovery.Enrichment{}, false, fmt.Errorf("redis get: %w", err)
	}

	var enr discovery.Enrichment
	if err := json.Unmarshal(raw, &enr); err != nil {
		return discovery.Enrichment{}, false, fmt.Errorf("decode cached enrichment: %w", err)
	}
	return enr, true, nil
}

func (c *Cache) PutEnrichment(ctx context.Context, key string, enr discovery.Enrichment, ttl time.Duration) error {
	raw, err := json.Marshal(enr)
	if err != nil {
		return fmt.Errorf("encode enrichment: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
