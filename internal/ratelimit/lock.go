package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out short exclusive leases on a key. Without a Redis client
// leases only exclude callers in this process.
type Locker struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time

	mu    sync.Mutex
	local map[string]lease
}

type lease struct {
	token   string
	expires time.Time
}

func NewLocker(client *redis.Client) *Locker {
	l := &Locker{client: client, now: time.Now, local: map[string]lease{}}
	if client != nil {
		l.script = redis.NewScript(lockReleaseScript)
	}
	return l
}

// TryLock returns a release token when the lease was taken.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	if l.client == nil {
		return l.tryLocal(key, token, ttl)
	}
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) tryLocal(key, token string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if held, ok := l.local[key]; ok && now.Before(held.expires) {
		return "", false, nil
	}
	l.local[key] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

// Release drops the lease only if token still owns it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	if l.client == nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.local[key]; ok && held.token == token {
			delete(l.local, key)
		}
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
