package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisConfig struct {
	TTL           time.Duration
	RetryInterval time.Duration
	WaitTimeout   time.Duration
}

type RedisLocker struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger
}

func NewRedisLocker(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	return &RedisLocker{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis_lock").Logger(),
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	key = lockKey(key)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(waitCtx, key, token, r.cfg.TTL).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("redis setnx failed: %w", err)
		}
		if ok {
			return r.release(key, token), nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, waitCtx.Err())
		}
	}
}

func (r *RedisLocker) release(key, token string) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be done; release on our own clock
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RetryInterval*20)
			defer cancel()
			n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
			if err != nil {
				r.logger.Error().Err(err).Str("key", key).Msg("failed to release lock")
				return
			}
			if n == 0 {
				r.logger.Warn().Str("key", key).Msg("lock expired before release")
			}
		})
	}
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}
