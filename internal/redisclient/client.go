package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"energy-ledger/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/cache_producer.lua
var cacheProducerScript string

type Client struct {
	rdb         *redis.Client
	cacheTTL    time.Duration
	cacheScript *redis.Script
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int, cacheTTL time.Duration) (*Client, error) {
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

	return New(rdb, cacheTTL), nil
}

// New wraps an existing Redis client
func New(rdb *redis.Client, cacheTTL time.Duration) *Client {
	return &Client{
		rdb:         rdb,
		cacheTTL:    cacheTTL,
		cacheScript: redis.NewScript(cacheProducerScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func producerKey(id string) string {
	return fmt.Sprintf("producer:%s", id)
}

func producerVersionKey(id string) string {
	return fmt.Sprintf("producer:%s:version", id)
}

// ProducerVersion returns the listing version, 0 before the first
// invalidation
func (c *Client) ProducerVersion(ctx context.Context, id string) (int64, error) {
	version, err := c.rdb.Get(ctx, producerVersionKey(id)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return version, err
}

// CacheProducer atomically stores the public listing of a producer if its
// version is still version. It returns false when the listing was
// invalidated in the meantime.
func (c *Client) CacheProducer(ctx context.Context, p models.Producer, version int64) (bool, error) {
	keys := []string{producerKey(p.ID), producerVersionKey(p.ID)}
	result, err := c.cacheScript.Run(ctx, c.rdb, keys,
		version,
		int64(c.cacheTTL/time.Second),
		"energy_available", p.EnergyAvailable,
		"energy_price", p.EnergyPrice,
		"paused", p.Paused).Result()
	if err != nil {
		return false, fmt.Errorf("cache producer script failed: %w", err)
	}

	stored, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return stored == 1, nil
}

// GetProducerInfo returns a cached listing, found=false on a miss
func (c *Client) GetProducerInfo(ctx context.Context, id string) (models.ProducerInfo, bool, error) {
	result, err := c.rdb.HGetAll(ctx, producerKey(id)).Result()
	if err != nil {
		return models.ProducerInfo{}, false, err
	}
	if len(result) == 0 {
		return models.ProducerInfo{}, false, nil
	}

	available, err := strconv.ParseUint(result["energy_available"], 10, 64)
	if err != nil {
		return models.ProducerInfo{}, false, fmt.Errorf("corrupt cache entry for producer %s: %w", id, err)
	}
	price, err := strconv.ParseUint(result["energy_price"], 10, 64)
	if err != nil {
		return models.ProducerInfo{}, false, fmt.Errorf("corrupt cache entry for producer %s: %w", id, err)
	}

	return models.ProducerInfo{EnergyAvailable: available, EnergyPrice: price}, true, nil
}

// InvalidateProducer drops a cached listing and bumps its version so
// writes prepared against the old version are refused
func (c *Client) InvalidateProducer(ctx context.Context, id string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, producerVersionKey(id))
	pipe.Del(ctx, producerKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// ClaimIdempotencyKey records key for ttl. It returns false if the key
// was already claimed.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), "1", ttl).Result()
}

// ReleaseIdempotencyKey forgets a claimed key so the request can be retried
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}
