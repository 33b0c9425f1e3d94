package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the store needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis stores keys in Redis under a fixed prefix. Values never expire.
type Redis struct {
	client RedisClient
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client RedisClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection with PING.
// The returned close func releases the client.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return NewRedis(client, prefix), client.Close, nil
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
