package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when the lease is still held after the wait budget.
var ErrLockNotAcquired = errors.New("session lock not acquired")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redisv9.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionLocker serializes work on one session across processes with a Redis lease.
type SessionLocker struct {
	client   *redisv9.Client
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
}

func NewSessionLocker(client *redisv9.Client, ttl, wait time.Duration) *SessionLocker {
	if ttl <= 0 {
		ttl = 150 * time.Second
	}
	if wait < 0 {
		wait = 0
	}
	return &SessionLocker{
		client:   client,
		ttl:      ttl,
		wait:     wait,
		interval: 50 * time.Millisecond,
	}
}

// Lock acquires the lease for sessionID and returns its release func.
// The release func is safe to call after the lease expired.
func (l *SessionLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	token, err := newLockToken()
	if err != nil {
		return nil, err
	}
	key := l.lockKey(sessionID)
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis acquire session lock failed: %w", err)
		}
		if ok {
			return func() {
				// The caller may already be cancelled; the release must still land.
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockNotAcquired
		}

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *SessionLocker) lockKey(sessionID string) string {
	return "chat:lock:" + sessionID
}

func newLockToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
