package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/zookeeper"
)

// LocalLocker 进程内按 key 加锁，单实例部署时使用
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// ZooKeeperLocker 多实例部署时基于 ZooKeeper 临时顺序节点加锁
type ZooKeeperLocker struct {
	conn    *zookeeper.Conn
	timeout time.Duration
}

func NewZooKeeperLocker(conn *zookeeper.Conn, timeout time.Duration) *ZooKeeperLocker {
	return &ZooKeeperLocker{conn: conn, timeout: timeout}
}

func (z *ZooKeeperLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(z.conn, key)
	if err != nil {
		return nil, err
	}
	if z.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, z.timeout)
		defer cancel()
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, fmt.Errorf("acquire zookeeper lock %s: %w", key, err)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("lock", key).Msg("Failed to release zookeeper lock")
		}
	}, nil
}
