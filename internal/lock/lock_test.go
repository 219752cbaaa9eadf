package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/TopicDigest/internal/logging"
)

func TestKeyedMutexExclusivePerKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	unlock, ok, err := m.TryLock(ctx, "subscription:1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = m.TryLock(ctx, "subscription:1")
	assert.False(t, ok, "same key must be rejected while held")

	other, ok, _ := m.TryLock(ctx, "subscription:2")
	require.True(t, ok, "different keys are independent")
	other()

	unlock()
	unlock() // 重复释放无副作用

	again, ok, _ := m.TryLock(ctx, "subscription:1")
	require.True(t, ok)
	again()
}

func TestKeyedMutexConcurrentSingleWinner(t *testing.T) {
	m := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
		hold    = make(chan struct{})
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			unlock, ok, _ := m.TryLock(context.Background(), "k")
			if ok {
				winners.Add(1)
				<-hold
				unlock()
			}
		}()
	}
	close(start)
	time.Sleep(50 * time.Millisecond)
	close(hold)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestRedisLockerSetNXAndRelease(t *testing.T) {
	rdb, mr := newRedis(t)
	l := NewRedisLocker(rdb, time.Minute)
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "subscription:7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("topicdigest:lock:subscription:7"))
	assert.Equal(t, time.Minute, mr.TTL("topicdigest:lock:subscription:7"))

	second := NewRedisLocker(rdb, time.Minute)
	_, ok, err = second.TryLock(ctx, "subscription:7")
	require.NoError(t, err)
	assert.False(t, ok, "another process must not acquire the held key")

	unlock()
	assert.False(t, mr.Exists("topicdigest:lock:subscription:7"))
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	rdb, mr := newRedis(t)
	l := NewRedisLocker(rdb, time.Second)
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	// 租约过期后被其他进程拿走
	mr.FastForward(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	holder, _ := mr.Get("topicdigest:lock:k")

	unlock()
	got, err := mr.Get("topicdigest:lock:k")
	require.NoError(t, err)
	assert.Equal(t, holder, got)
}

func TestMultiReleasesOnPartialFailure(t *testing.T) {
	rdb, _ := newRedis(t)
	local := NewKeyedMutex()
	remote := NewRedisLocker(rdb, time.Minute)
	m := NewMulti(logging.Discard(), local, remote)
	ctx := context.Background()

	// 另一个进程持有 Redis 锁
	foreign, ok, err := remote.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = local.TryLock(ctx, "k")
	assert.True(t, ok, "local lock must be released when redis lock is held elsewhere")
	foreign()
}

func TestMultiDegradesWhenRedisDown(t *testing.T) {
	rdb, mr := newRedis(t)
	local := NewKeyedMutex()
	m := NewMulti(logging.Discard(), local, NewRedisLocker(rdb, time.Minute))
	mr.Close()

	unlock, ok, err := m.TryLock(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = local.TryLock(context.Background(), "k")
	assert.False(t, ok, "local lock is still held")
	unlock()
}
