package semaphore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisAcquireScript atomically checks and increments a per-token
// counter, capped at capacity, self-expiring so a crashed replica never
// leaves a token permanently stuck at its limit.
// KEYS[1] = semaphore key ("semaphore:<token>")
// ARGV[1] = capacity
var redisAcquireScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])

local current = tonumber(redis.call("GET", key))
if not current then
    current = 0
end

if current >= capacity then
    return 0
end

redis.call("INCR", key)
redis.call("EXPIRE", key, 60)
return 1
`)

// RedisStore implements Store on top of a shared Redis instance,
// mirroring github.com/Mindburn-Labs/helm/core/pkg/kernel's
// RedisLimiterStore: a Lua script for the atomic check-and-mutate, a
// self-expiring key so a crashed holder cannot wedge the semaphore
// forever.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to a Redis instance at addr for the
// distributed TokenSemaphore variant (spec §9 "multi-replica control
// plane").
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *RedisStore) TryAcquire(ctx context.Context, token string, capacity int) (bool, error) {
	key := fmt.Sprintf("semaphore:%s", token)
	res, err := redisAcquireScript.Run(ctx, s.client, []string{key}, capacity).Result()
	if err != nil {
		return false, fmt.Errorf("semaphore: redis acquire: %w", err)
	}
	allowed, _ := res.(int64)
	return allowed == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, token string) error {
	key := fmt.Sprintf("semaphore:%s", token)
	n, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("semaphore: redis release: %w", err)
	}
	if n <= 0 {
		s.client.Del(ctx, key)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
