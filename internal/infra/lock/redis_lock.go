// Package lock provides a Redis-backed lock that keeps sweeps from overlapping across replicas.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient creates a Redis client from the given URL.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// RedisLocker hands out named, expiring locks.
type RedisLocker struct {
	client *redis.Client
	prefix string
	logger *logrus.Entry
}

func NewRedisLocker(client *redis.Client, prefix string, logger *logrus.Entry) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, logger: logger}
}

// TryLock takes the lock if nobody holds it. The lock expires after ttl even if
// the holder dies without releasing it.
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := l.key(name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// Release even if the caller's context was canceled mid-sweep.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.WithError(err).WithField("lock", key).Warn("Failed to release lock, it will expire on its own")
		}
	}
	return unlock, true, nil
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + ":lock:" + name
}
