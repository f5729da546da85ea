package redisclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, 2*time.Second), mr
}

func TestWithLockRunsFn(t *testing.T) {
	locker, _ := newTestLocker(t)

	ran := false
	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithLockFailsFastWhenHeld(t *testing.T) {
	locker, mr := newTestLocker(t)
	require.NoError(t, mr.Set("lock:test", "someone-else"))

	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		t.Fatal("fn must not run when the lock is held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithLockReleasesOnReturn(t *testing.T) {
	locker, mr := newTestLocker(t)

	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)

	// Key must be gone so the next caller can acquire immediately.
	assert.False(t, mr.Exists("lock:test"))
}

func TestWithLockDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t)

	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		// Simulate TTL expiry plus takeover by another caller mid-section.
		mr.Set("lock:test", "other-owner")
		return nil
	})
	require.NoError(t, err)

	val, err := mr.Get("lock:test")
	require.NoError(t, err)
	assert.Equal(t, "other-owner", val, "release must leave a foreign lock in place")
}

func TestWithLockWaitQueuesBehindHolder(t *testing.T) {
	locker, _ := newTestLocker(t)
	key := SessionLockKey(uuid.New(), "15550001111")

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	started := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = locker.WithLockWait(context.Background(), key, func(ctx context.Context) error {
			close(started)
			time.Sleep(200 * time.Millisecond)
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			return nil
		})
	}()

	<-started
	err := locker.WithLockWait(context.Background(), key, func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestWithLockWaitHonorsContext(t *testing.T) {
	locker, mr := newTestLocker(t)
	require.NoError(t, mr.Set("lock:held", "forever"))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := locker.WithLockWait(ctx, "lock:held", func(ctx context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
