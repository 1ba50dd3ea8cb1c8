// Package cache holds Redis-backed coordination shared by several sync processes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

const (
	// DefaultLockTTL bounds how long a crashed holder blocks a key
	DefaultLockTTL = 2 * time.Minute
	// DefaultLockPrefix namespaces lock keys
	DefaultLockPrefix = "autoworld:sync:lock:"
)

var errLockHeld = errors.New("cache: key lock held")

// Release and refresh only act on a lock that still carries our token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings Redis
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisKeyLocker serializes work per identity key across processes with
// SET NX PX and a random token. While held, the lock is refreshed every
// ttl/3 so slow remote calls do not outlive it.
type RedisKeyLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	pollMax time.Duration
	logger  *zap.Logger
}

var _ integration.KeyLocker = (*RedisKeyLocker)(nil)

// RedisLockOption configures a RedisKeyLocker
type RedisLockOption func(*RedisKeyLocker)

// WithLockTTL sets the lock expiry
func WithLockTTL(ttl time.Duration) RedisLockOption {
	return func(l *RedisKeyLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockPrefix sets the key namespace
func WithLockPrefix(prefix string) RedisLockOption {
	return func(l *RedisKeyLocker) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLockLogger sets the logger
func WithLockLogger(logger *zap.Logger) RedisLockOption {
	return func(l *RedisKeyLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisKeyLocker creates a locker on an existing client
func NewRedisKeyLocker(client redis.UniversalClient, opts ...RedisLockOption) *RedisKeyLocker {
	l := &RedisKeyLocker{
		client:  client,
		prefix:  DefaultLockPrefix,
		ttl:     DefaultLockTTL,
		pollMax: 250 * time.Millisecond,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("redis_key_lock")
	return l
}

// Lock polls until the key is acquired or ctx is done. Redis failures are
// reported as storage failures so a Redis outage aborts the batch like a
// database outage would.
func (l *RedisKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	acquire := func() error {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return backoff.Permanent(fmt.Errorf("%w: redis lock %s: %w", integration.ErrMappingStorage, key, err))
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = l.pollMax
	eb.MaxElapsedTime = 0
	eb.Reset()

	if err := backoff.Retry(acquire, backoff.WithContext(eb, ctx)); err != nil {
		if ctx.Err() != nil && !errors.Is(err, integration.ErrMappingStorage) {
			return nil, ctx.Err()
		}
		return nil, err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(redisKey, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			// Release must run even when the caller's context is already cancelled.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("Failed to release key lock, it will expire",
					zap.String("key", key),
					zap.Duration("ttl", l.ttl),
					zap.Error(err),
				)
			}
		})
	}, nil
}

func (l *RedisKeyLocker) keepAlive(redisKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.logger.Warn("Failed to refresh key lock", zap.String("redis_key", redisKey), zap.Error(err))
				continue
			}
			if n == 0 {
				l.logger.Error("Key lock lost before release", zap.String("redis_key", redisKey))
				return
			}
		}
	}
}
