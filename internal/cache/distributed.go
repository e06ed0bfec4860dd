package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Key namespaces for the shared layer.
const (
	snapshotKeyPrefix = "beacon:snapshot:"
	lockKeyPrefix     = "beacon:lock:"
)

// Lock is a held distributed mutex. Release is safe to call exactly once.
type Lock interface {
	Release(ctx context.Context) error
}

// Distributed is the optional shared cache layer used to spread refresh
// results across process instances. A nil Distributed degrades the
// coordinator to durable-store-only refresh with in-process de-duplication.
type Distributed interface {
	// ReadSnapshot fetches the shared snapshot payload for a cache name.
	// A nil payload with nil error means no snapshot is published.
	ReadSnapshot(ctx context.Context, name string) ([]byte, error)

	// WriteSnapshot publishes a snapshot payload under the cache name.
	WriteSnapshot(ctx context.Context, name string, payload []byte, ttl time.Duration) error

	// AcquireLock takes the refresh mutex for a cache name. A nil Lock
	// with nil error means another process currently holds it.
	AcquireLock(ctx context.Context, name string) (Lock, error)
}

// RedisDistributed implements Distributed on top of go-redis, using
// redsync for the refresh mutex.
type RedisDistributed struct {
	client     *redis.Client
	sync       *redsync.Redsync
	lockExpiry time.Duration
}

var _ Distributed = (*RedisDistributed)(nil)

// NewRedisDistributed wraps an established Redis client. lockExpiry bounds
// how long a crashed holder can block other refreshers.
func NewRedisDistributed(client *redis.Client, lockExpiry time.Duration) *RedisDistributed {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if lockExpiry <= 0 {
		lockExpiry = 30 * time.Second
	}
	return &RedisDistributed{
		client:     client,
		sync:       redsync.New(goredis.NewPool(client)),
		lockExpiry: lockExpiry,
	}
}

// ReadSnapshot returns the published payload, or nil when absent.
func (d *RedisDistributed) ReadSnapshot(ctx context.Context, name string) ([]byte, error) {
	payload, err := d.client.Get(ctx, snapshotKeyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read shared snapshot %q: %w", name, err)
	}
	return payload, nil
}

// WriteSnapshot publishes the payload with the given TTL. Last writer wins;
// flag state is eventually consistent by design.
func (d *RedisDistributed) WriteSnapshot(ctx context.Context, name string, payload []byte, ttl time.Duration) error {
	if err := d.client.Set(ctx, snapshotKeyPrefix+name, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write shared snapshot %q: %w", name, err)
	}
	return nil
}

// AcquireLock makes a single attempt on the refresh mutex. Contention is
// not an error: the caller falls back to hydration or a best-effort load.
func (d *RedisDistributed) AcquireLock(ctx context.Context, name string) (Lock, error) {
	mutex := d.sync.NewMutex(
		lockKeyPrefix+name,
		redsync.WithExpiry(d.lockExpiry),
		redsync.WithTries(1),
	)

	err := mutex.TryLockContext(ctx)
	if err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire refresh lock %q: %w", name, err)
	}
	return &redisLock{mutex: mutex}, nil
}

type redisLock struct {
	mutex *redsync.Mutex
}

func (l *redisLock) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to release refresh lock: %w", err)
	}
	if !ok {
		// Expired before release; the next holder already took over.
		return errors.New("refresh lock was no longer held at release")
	}
	return nil
}
