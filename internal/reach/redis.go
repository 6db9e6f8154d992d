package reach

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenerations keeps dirty generations in Redis so multiple API
// processes share one invalidation view. INCR gives the additive atomic
// increment the cache contract requires.
type RedisGenerations struct {
	client *redis.Client
	prefix string
}

// NewRedisGenerations connects to Redis and verifies the connection.
func NewRedisGenerations(redisURL string) (*RedisGenerations, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisGenerations{client: client, prefix: "reachgen:"}, nil
}

// NewRedisGenerationsWithClient wraps an existing client, for tests.
func NewRedisGenerationsWithClient(client *redis.Client) *RedisGenerations {
	return &RedisGenerations{client: client, prefix: "reachgen:"}
}

func (r *RedisGenerations) key(personID string) string {
	return r.prefix + personID
}

func (r *RedisGenerations) Bump(ctx context.Context, personID string) error {
	if err := r.client.Incr(ctx, r.key(personID)).Err(); err != nil {
		return fmt.Errorf("incr generation: %w", err)
	}
	return nil
}

func (r *RedisGenerations) Current(ctx context.Context, personID string) (int64, error) {
	val, err := r.client.Get(ctx, r.key(personID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get generation: %w", err)
	}
	return val, nil
}

// Close releases the Redis connection.
func (r *RedisGenerations) Close() error {
	return r.client.Close()
}
