package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	release, ok, err := l.Acquire(ctx, "bot:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.Acquire(ctx, "bot:1", time.Minute); ok {
		t.Fatalf("second acquire succeeded while held")
	}
	if _, ok, _ := l.Acquire(ctx, "bot:2", time.Minute); !ok {
		t.Fatalf("other key blocked")
	}
	release()
	if _, ok, _ := l.Acquire(ctx, "bot:1", time.Minute); !ok {
		t.Fatalf("acquire after release failed")
	}
}

func TestMemoryLocker_ExpiredHoldIsReplaced(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	staleRelease, ok, _ := l.Acquire(ctx, "bot:1", time.Second)
	if !ok {
		t.Fatalf("acquire failed")
	}
	now = now.Add(2 * time.Second)
	_, ok, _ = l.Acquire(ctx, "bot:1", time.Minute)
	if !ok {
		t.Fatalf("expired hold not replaced")
	}
	// The stale holder must not free the new hold.
	staleRelease()
	if _, ok, _ := l.Acquire(ctx, "bot:1", time.Minute); ok {
		t.Fatalf("stale release freed the new hold")
	}
}

func TestMemoryLocker_Purge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	_, _, _ = l.Acquire(ctx, "bot:1", time.Second)
	_, _, _ = l.Acquire(ctx, "bot:2", time.Hour)
	now = now.Add(time.Minute)
	if n := l.Purge(); n != 1 {
		t.Fatalf("purged=%d want=1", n)
	}
	if _, ok, _ := l.Acquire(ctx, "bot:2", time.Minute); ok {
		t.Fatalf("live hold purged")
	}
}

func TestRedisLocker_ReleaseFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	l := NewRedisLocker(client, zap.New(core))

	l.release(keyPrefix+"bot:1", "token")

	entries := logs.FilterMessage("lock release failed").All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d want=1", len(entries))
	}
	if got := entries[0].ContextMap()["key"]; got != keyPrefix+"bot:1" {
		t.Fatalf("key=%v want=%s", got, keyPrefix+"bot:1")
	}
}
