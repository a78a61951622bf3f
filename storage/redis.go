package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/epic1st/paperfx/engine"
)

// ErrNotFound is returned by warm-read lookups on a cache miss.
var ErrNotFound = errors.New("storage: not found")

// RedisConfig mirrors config.RedisConfig's shape without importing the
// config package, keeping storage's dependency graph one-directional.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisCache is a portfolio snapshot cache and the BLPOP source for the
// order queue worker (§6). It never competes with Postgres as the source of
// truth. The registry's get_or_create path does not consult it: it loads
// portfolios from Postgres directly.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: redis connect: %w", err)
	}

	return &RedisCache{client: client, prefix: cfg.Prefix}, nil
}

func (c *RedisCache) key(parts ...string) string {
	key := c.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// GetPortfolio reads a cached portfolio snapshot, returning ErrNotFound on
// a miss. Nothing in this module calls it.
func (c *RedisCache) GetPortfolio(ctx context.Context, userID string) (*engine.PortfolioSnapshot, error) {
	data, err := c.client.Get(ctx, c.key("portfolio", userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var snapshot engine.PortfolioSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// SetPortfolio refreshes the warm cache; ttl of 0 means no expiry, since a
// portfolio's cache entry is invalidated by overwrite, not by age.
func (c *RedisCache) SetPortfolio(ctx context.Context, snapshot engine.PortfolioSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key("portfolio", snapshot.UserID), data, ttl).Err()
}

// PushOrder enqueues an order for the optional order-queue worker collaborator.
func (c *RedisCache) PushOrder(ctx context.Context, payload []byte) error {
	return c.client.RPush(ctx, c.key("orders_queue"), payload).Err()
}

// BLPopOrder blocks up to timeout for the next queued order, returning
// ErrNotFound on a timeout instead of redis.Nil.
func (c *RedisCache) BLPopOrder(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := c.client.BLPop(ctx, timeout, c.key("orders_queue")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// BLPOP returns [key, value]; the value is the second element.
	if len(result) < 2 {
		return nil, ErrNotFound
	}
	return []byte(result[1]), nil
}

// QueueDepth reports the current backlog length, for the metrics gauge.
func (c *RedisCache) QueueDepth(ctx context.Context) (int64, error) {
	return c.client.LLen(ctx, c.key("orders_queue")).Result()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
