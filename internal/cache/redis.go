package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// RedisConfig configures the Redis-backed cache.
type RedisConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Redis is a Store backed by a Redis server. Individual key
// reads/writes/deletes are atomic on the server side, which is all the
// change-notification protocol requires.
type Redis struct {
	client *goredis.Client
}

// NewRedis creates a Redis cache and pings the server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[cache] connected to redis at %s", cfg.Addr)
	return &Redis{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Redis) Client() *goredis.Client { return r.client }

// Get reads a key. A redis.Nil reply means the entry is absent or
// already expired and is not an error.
func (r *Redis) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes a key with the given TTL.
func (r *Redis) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key.String(), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (r *Redis) Delete(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
