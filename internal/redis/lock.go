package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("consultation lock not acquired")
)

// Locker guards the critical section that creates a call session for one
// (schedule, patient) pair, so two concurrent invites cannot both observe
// "no non-terminal session" and insert.
type Locker interface {
	WithPairLock(ctx context.Context, scheduleID, patientID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisPairLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPairLocker creates a locker keyed per (schedule, patient) pair.
func NewRedisPairLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisPairLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisPairLocker) WithPairLock(ctx context.Context, scheduleID, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:consult:%s:%s", scheduleID.String(), patientID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire consultation lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisPairLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release consultation lock: %w", err)
	}
	return nil
}
