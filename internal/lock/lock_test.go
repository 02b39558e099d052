package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisLocker, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	locker := NewRedisLocker(client, RedisConfig{
		TTL:           time.Second,
		RetryInterval: 5 * time.Millisecond,
		WaitTimeout:   200 * time.Millisecond,
	}, zerolog.Nop())

	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return locker, mr, cleanup
}

// exclusive runs n goroutines through the locker and reports the highest
// number of them that were inside the critical section at once
func exclusive(t *testing.T, l Locker, n int) int32 {
	t.Helper()
	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), OrderKey(1234))
			if !assert.NoError(t, err) {
				return
			}
			cur := inside.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	return peak.Load()
}

func TestKeyedMutex_Exclusive(t *testing.T) {
	km := NewKeyedMutex()

	assert.Equal(t, int32(1), exclusive(t, km, 20))
	assert.Equal(t, 0, km.size(), "idle keys are dropped")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	r1, err := km.Acquire(context.Background(), OrderKey(1))
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r2, err := km.Acquire(ctx, OrderKey(2))
	require.NoError(t, err)
	r2()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	km := NewKeyedMutex()

	release, err := km.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Equal(t, 0, km.size())
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	locker, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	release, err := locker.Acquire(context.Background(), OrderKey(1000))
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:order:1000"))

	release()
	assert.False(t, mr.Exists("lock:order:1000"))
}

func TestRedisLocker_WaitTimeout(t *testing.T) {
	locker, _, cleanup := setupTestRedis(t)
	defer cleanup()

	release, err := locker.Acquire(context.Background(), OrderKey(1000))
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(context.Background(), OrderKey(1000))
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	locker, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	release, err := locker.Acquire(context.Background(), OrderKey(1000))
	require.NoError(t, err)

	// our lease ran out and another instance took the key
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("lock:order:1000", "someone-else"))

	release()
	got, err := mr.Get("lock:order:1000")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_Exclusive(t *testing.T) {
	locker, _, cleanup := setupTestRedis(t)
	defer cleanup()
	locker.cfg.WaitTimeout = 5 * time.Second

	assert.Equal(t, int32(1), exclusive(t, locker, 10))
}
