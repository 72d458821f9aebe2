package remote

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis adapter.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Redis stores values as plain strings with no server-side expiry; the
// remote store is the system of record.
type Redis struct {
	client *redis.Client
}

func NewRedis(opts RedisOptions) *Redis {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 20
	}
	return NewRedisFromClient(redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.PoolSize / 4,
	}))
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
