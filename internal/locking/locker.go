package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// CallLocker serializes mutations of a single call across processes using
// Redis keyed locks. Holding the lock does not replace the version check on
// Save; it only reduces conflict churn between the scheduler, webhook
// handler, and pipeline worker.
type CallLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCallLocker constructs a locker. The TTL bounds how long a crashed
// holder can block other workers.
func NewCallLocker(client *redis.Client, ttl time.Duration) *CallLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CallLocker{client: client, ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Acquire attempts to take the lock for a call. It returns ok=false when
// another holder owns the lock. The release func only deletes the key
// while the acquiring token still owns it, so an expired lock taken over
// by another worker is left intact.
func (l *CallLocker) Acquire(ctx context.Context, callID uuid.UUID) (release func(context.Context) error, ok bool, err error) {
	key := l.key(callID)
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("call lock acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(rctx context.Context) error {
		if _, err := releaseScript.Run(rctx, l.client, []string{key}, token).Int(); err != nil {
			return fmt.Errorf("call lock release: %w", err)
		}
		return nil
	}
	return release, true, nil
}

// Wait acquires the lock, polling until it becomes free or ctx expires.
func (l *CallLocker) Wait(ctx context.Context, callID uuid.UUID) (release func(context.Context) error, err error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		release, ok, err := l.Acquire(ctx, callID)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("call lock wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *CallLocker) key(callID uuid.UUID) string {
	return fmt.Sprintf("followup:call:%s:lock", callID.String())
}
