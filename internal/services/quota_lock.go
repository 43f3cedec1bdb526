package services

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
)

// Locker acquires a named mutual-exclusion lock. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, name string) (func() error, error)
}

const defaultLockExpiry = 10 * time.Second

// RedsyncLocker implements Locker with Redis-backed redsync mutexes.
type RedsyncLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

// NewRedsyncLocker wraps rs. Locks expire after expiry so a crashed holder cannot
// block a user forever.
func NewRedsyncLocker(rs *redsync.Redsync, expiry time.Duration) *RedsyncLocker {
	if expiry <= 0 {
		expiry = defaultLockExpiry
	}
	return &RedsyncLocker{rs: rs, expiry: expiry}
}

func (l *RedsyncLocker) Lock(ctx context.Context, name string) (func() error, error) {
	mutex := l.rs.NewMutex("trialkit:lock:"+name, redsync.WithExpiry(l.expiry))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() error {
		_, err := mutex.Unlock()
		return err
	}, nil
}
