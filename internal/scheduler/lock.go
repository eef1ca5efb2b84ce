package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/pkg/logger"
)

const (
	lockPrefix = "relayer-collector:lock:"

	// DefaultLockTTL 同步锁默认有效期
	DefaultLockTTL = 10 * time.Minute
)

// ErrLockNotHeld 锁已过期或被他人持有
var ErrLockNotHeld = errors.New("lock not held")

var (
	unlockScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	renewScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// DistributedLock 基于 SET NX 的分布式锁
type DistributedLock struct {
	client      redis.UniversalClient
	key         string
	value       string
	ttl         time.Duration
	useWatchdog bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client redis.UniversalClient, name string, ttl time.Duration, useWatchdog bool) *DistributedLock {
	return &DistributedLock{
		client:      client,
		key:         lockPrefix + name,
		value:       uuid.New().String(),
		ttl:         ttl,
		useWatchdog: useWatchdog,
		stopCh:      make(chan struct{}),
	}
}

// TryLock 尝试获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if ok && l.useWatchdog {
		l.startWatchdog()
	}
	return ok, nil
}

// Unlock 只释放自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	if l.useWatchdog {
		close(l.stopCh)
		l.wg.Wait()
	}
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// startWatchdog 在 TTL 的 1/3 时续期
func (l *DistributedLock) startWatchdog() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				if err := l.renew(context.Background()); err != nil {
					logger.Warn("failed to renew lock", zap.String("key", l.key), zap.Error(err))
				}
			}
		}
	}()
}

func (l *DistributedLock) renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// LockManager 锁管理器, 同时作为同步服务的按类数据锁
type LockManager struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewLockManager 创建锁管理器
func NewLockManager(client redis.UniversalClient, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockManager{client: client, ttl: ttl}
}

// NewLock 创建新锁
func (m *LockManager) NewLock(name string, ttl time.Duration, useWatchdog bool) *DistributedLock {
	return NewDistributedLock(m.client, name, ttl, useWatchdog)
}

// TryLock 获取带看门狗的锁, 返回释放函数
func (m *LockManager) TryLock(ctx context.Context, name string) (func(), bool, error) {
	l := m.NewLock(name, m.ttl, true)
	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := l.Unlock(context.Background()); err != nil {
			logger.Warn("failed to release lock", zap.String("lock", name), zap.Error(err))
		}
	}, true, nil
}

// IsLocked 检查是否被锁定
func (m *LockManager) IsLocked(ctx context.Context, name string) (bool, error) {
	n, err := m.client.Exists(ctx, lockPrefix+name).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
