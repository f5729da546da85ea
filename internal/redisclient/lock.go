package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker guards critical sections behind a Redis key. WithLock fails fast
// when the key is held (booking commits); WithLockWait polls until the key
// frees up or the context expires (conversation turns, which must queue
// behind each other rather than error out).
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
	WithLockWait(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retryEvery time.Duration
}

// NewRedisLocker creates a locker backed by per-key SetNX tokens.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{
		client:     client,
		ttl:        ttl,
		retryEvery: 50 * time.Millisecond,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	return l.run(ctx, key, token, fn)
}

func (l *redisLocker) WithLockWait(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for lock %s: %w", key, ctx.Err())
		case <-time.After(l.retryEvery):
		}
	}

	return l.run(ctx, key, token, fn)
}

func (l *redisLocker) run(ctx context.Context, key, token string, fn func(ctx context.Context) error) error {
	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// release deletes the key only if it still holds our token, so an expired
// lock taken over by another caller is never removed from under them.
var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// DoctorLockKey serializes booking commits for one doctor.
func DoctorLockKey(doctorID uuid.UUID) string {
	return "lock:doctor:" + doctorID.String()
}

// SessionLockKey serializes conversation turns for one (clinic, phone) pair.
func SessionLockKey(clinicID uuid.UUID, phone string) string {
	return fmt.Sprintf("lock:session:%s:%s", clinicID, phone)
}
