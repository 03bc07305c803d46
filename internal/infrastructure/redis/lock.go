package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLockScript deletes the key only while it still holds our token.
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock is a single-holder lease on a Redis key.
type DistributedLock struct {
	client   redis.Cmdable
	key      string
	token    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock prepares a lock on key. Nothing is sent until Acquire.
func NewDistributedLock(client redis.Cmdable, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    "lock:" + key,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire takes the lease if nobody holds it. It reports false, without an
// error, when the key is already held.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	l.acquired = ok
	return ok, nil
}

// Release gives the lease back. Releasing a lease that expired or was never
// taken returns errors.ErrLockNotHeld.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return domainErrors.ErrLockNotHeld
	}
	n, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	l.acquired = false
	if n == 0 {
		return fmt.Errorf("release lock %s: %w", l.key, domainErrors.ErrLockNotHeld)
	}
	return nil
}

// Locker hands out distributed locks by key.
type Locker struct {
	client redis.Cmdable
}

func NewLocker(client redis.Cmdable) *Locker {
	return &Locker{client: client}
}

// Acquire takes the lock on key for ttl and returns its release function.
// A lock held by someone else yields errors.ErrLockAcquisitionFailed.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock := NewDistributedLock(l.client, key, ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", key, domainErrors.ErrLockAcquisitionFailed)
	}
	return lock.Release, nil
}
