package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"entitlement-service/internal/models"

	"github.com/go-redis/redis/v8"
)

const catalogKey = "catalog:snapshot"

// Client wraps Redis for the catalog snapshot cache: the last successful
// catalog load is kept with a TTL so a restarting instance can serve
// prices before its first reload. Ownership state is never cached here;
// the entitlement set is always re-derived from the platform ledger.
type Client struct {
	rdb        *redis.Client
	catalogTTL time.Duration
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:        rdb,
		catalogTTL: 24 * time.Hour,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PutCatalog replaces the cached catalog snapshot
func (c *Client) PutCatalog(ctx context.Context, products []models.Product) error {
	data, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	return c.rdb.Set(ctx, catalogKey, data, c.catalogTTL).Err()
}

// Catalog returns the cached catalog snapshot, or nil when absent/expired
func (c *Client) Catalog(ctx context.Context) ([]models.Product, error) {
	data, err := c.rdb.Get(ctx, catalogKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var products []models.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached catalog: %w", err)
	}
	return products, nil
}
