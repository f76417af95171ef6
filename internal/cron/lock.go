package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLockTTL = 10 * time.Minute
	lockPrefix     = "cron"
)

// Lock coordinates exclusive job runs across workers.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Locker hands out the lock guarding one job.
type Locker interface {
	Lock(job string) Lock
}

type lockClient interface {
	AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// RedisLocker builds per-job Redis locks.
type RedisLocker struct {
	client lockClient
	ttl    time.Duration
}

// NewRedisLocker constructs a Redis-backed locker. ttl bounds how long a
// crashed worker can keep a job blocked.
func NewRedisLocker(client lockClient, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

func (l *RedisLocker) Lock(job string) Lock {
	return &RedisLock{client: l.client, name: lockPrefix + ":" + job, ttl: l.ttl}
}

// RedisLock owns one job lock through a random token.
type RedisLock struct {
	client lockClient
	name   string
	ttl    time.Duration
	token  string
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.AcquireLock(ctx, l.name, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.name, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release frees the lock only while this holder still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	if err := l.client.ReleaseLock(ctx, l.name, l.token); err != nil {
		return fmt.Errorf("release %s: %w", l.name, err)
	}
	l.token = ""
	return nil
}
