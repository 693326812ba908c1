package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultLockKey = "guardian:monitoring:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a single-holder lease shared by every engine replica.
type Lock struct {
	client *Client
	key    string
	ttl    time.Duration
}

func (c *Client) NewLock(key string, ttl time.Duration) *Lock {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Lock{client: c, key: key, ttl: ttl}
}

// Acquire returns a token identifying this holder, or ok=false when another
// holder owns the lease.
func (l *Lock) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lease only if token still owns it.
func (l *Lock) Release(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// Extend resets the lease TTL if token still owns it. ok is false when the
// lease expired or was taken over.
func (l *Lock) Extend(ctx context.Context, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend lock %s: %w", l.key, err)
	}
	return n == 1, nil
}

// RenewalInterval is how often a holder should call Extend.
func (l *Lock) RenewalInterval() time.Duration {
	return l.ttl / 3
}
