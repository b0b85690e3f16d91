// Package approval implements the quorum gate: owner contexts, pending
// approvals, and the check-and-execute sequence that fires the underlying
// action exactly once when quorum is met.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredis "github.com/redis/go-redis/v9"
)

// Unlock releases a held lock.
type Unlock func()

// Locker serializes the quorum check-and-execute critical section per
// approval identifier. A losing concurrent approver observes "not pending"
// inside the section and no-ops.
type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}

// MutexLocker serializes within a single process using keyed mutexes.
// Suitable for single-node deployments and tests.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MutexLocker) Acquire(_ context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

// RedisLocker serializes across processes with redsync distributed mutexes.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedisLocker(client *goredis.Client) *RedisLocker {
	return &RedisLocker{
		rs:     redsync.New(redsyncgoredis.NewPool(client)),
		expiry: 8 * time.Second,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	mutex := l.rs.NewMutex("voidstream:approval:"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(16),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire approval lock %s: %w", key, err)
	}
	return func() {
		// Best effort: an expired lock unlocks itself.
		_, _ = mutex.Unlock()
	}, nil
}
