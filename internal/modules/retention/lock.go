package retention

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLockKey = "tokenkeeper:sweep:lock"
	DefaultLockTTL = 10 * time.Minute
)

// Locker decides which replica runs a scheduled sweep.
type Locker interface {
	// TryLock returns acquired=false without error when another holder has
	// the lock. unlock is only non-nil when the lock was acquired.
	TryLock(ctx context.Context) (unlock func(), acquired bool, err error)
}

// NoopLocker always grants. It is used when only one replica runs.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// Only the holder that set the value may delete the key.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLockLua = redis.NewScript(releaseLockScript)

// RedisLocker is a single-key lease lock (SET NX PX). The lease expires on
// its own if the holder dies mid-sweep.
type RedisLocker struct {
	client *redis.Client
	log    logrus.FieldLogger
	key    string
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, log logrus.FieldLogger, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, log: log, key: key, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// Release even when the sweep context was cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseLockLua.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil {
			l.log.WithError(err).WithField("key", l.key).Warn("Failed to release sweep lock")
		}
	}
	return unlock, true, nil
}
