// Package lock provides short-lived mutual exclusion keyed by string. The
// redis implementation spans processes; the memory one covers a single
// instance.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Locker interface {
	// Acquire tries once and never waits. ok is false when the key is held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

const keyPrefix = "pmbots:lock:"

// RedisLocker holds the lock with SET NX and a random token; release only
// deletes the key while the token still matches.
type RedisLocker struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisLocker(client *redis.Client, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, log: logger}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	full := keyPrefix + key
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() { l.release(full, token) }, true, nil
}

// release runs on its own context; the request context may already be done.
// A failed release leaves the key held until its TTL runs out.
func (l *RedisLocker) release(full, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, l.client, []string{full}, token).Int64()
	switch {
	case err != nil:
		l.log.Warn("lock release failed", zap.String("key", full), zap.Error(err))
	case n == 0:
		l.log.Warn("lock expired before release", zap.String("key", full))
	}
}

type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryHold
	now  func() time.Time
}

type memoryHold struct {
	token   uint64
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]memoryHold{}, now: time.Now}
}

var memoryTokens struct {
	sync.Mutex
	next uint64
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}
	memoryTokens.Lock()
	memoryTokens.next++
	token := memoryTokens.next
	memoryTokens.Unlock()

	l.held[key] = memoryHold{token: token, expires: now.Add(ttl)}
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[key]; ok && h.token == token {
			delete(l.held, key)
		}
	}
	return release, true, nil
}

// Purge drops expired holds left behind by callers that never released.
func (l *MemoryLocker) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for key, h := range l.held {
		if !now.Before(h.expires) {
			delete(l.held, key)
			n++
		}
	}
	return n
}
