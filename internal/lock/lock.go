// Package lock 提供按 key 的非阻塞互斥：进程内的 KeyedMutex，以及跨进程的 Redis 锁
package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker 拿不到锁时立即返回 ok=false，不排队等待
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// KeyedMutex 进程内按 key 互斥
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]struct{})}
}

func (m *KeyedMutex) TryLock(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}

// 只删除自己持有的锁，避免过期后误删别人的
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的租约锁，TTL 需覆盖一次完整的投递流程
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, prefix: "topicdigest:lock:", ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	full := l.prefix + key

	ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 释放不跟随调用方取消
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{full}, token).Err(); err != nil {
				slog.Warn("release redis lock", "key", full, "err", err)
			}
		})
	}, true, nil
}

// Multi 依次获取多把锁，任一拿不到就释放已拿到的。
// Redis 不可用时降级为只持有前面已拿到的锁并记录告警。
type Multi struct {
	lockers []Locker
	logger  *slog.Logger
}

func NewMulti(logger *slog.Logger, lockers ...Locker) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{lockers: lockers, logger: logger}
}

func (m *Multi) TryLock(ctx context.Context, key string) (func(), bool, error) {
	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, l := range m.lockers {
		unlock, ok, err := l.TryLock(ctx, key)
		if err != nil {
			if len(unlocks) == 0 {
				return nil, false, err
			}
			m.logger.Warn("lock backend unavailable, continuing with local lock", "key", key, "err", err)
			continue
		}
		if !ok {
			release()
			return nil, false, nil
		}
		unlocks = append(unlocks, unlock)
	}
	return release, true, nil
}
