package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// InFlightLock marks a requester as having an acquisition running. Locks
// expire after ttl so a crashed holder cannot block a requester forever.
type InFlightLock interface {
	Acquire(ctx context.Context, requesterID int64, ttl time.Duration) (bool, error)
	Release(ctx context.Context, requesterID int64) error
	Held(ctx context.Context, requesterID int64) (bool, error)
}

// MemoryLock is the single-process InFlightLock.
type MemoryLock struct {
	mu    sync.Mutex
	until map[int64]time.Time
	now   func() time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{until: make(map[int64]time.Time), now: time.Now}
}

func (l *MemoryLock) Acquire(_ context.Context, requesterID int64, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.until[requesterID]; ok && l.now().Before(t) {
		return false, nil
	}
	l.until[requesterID] = l.now().Add(ttl)
	return true, nil
}

func (l *MemoryLock) Release(_ context.Context, requesterID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.until, requesterID)
	return nil
}

func (l *MemoryLock) Held(_ context.Context, requesterID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.until[requesterID]
	return ok && l.now().Before(t), nil
}

// RedisLock shares the in-flight mark between service replicas.
type RedisLock struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	tokens map[int64]string
}

func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	if prefix == "" {
		prefix = "tuvi:acquire"
	}
	return &RedisLock{client: client, prefix: prefix, tokens: make(map[int64]string)}
}

func (l *RedisLock) key(requesterID int64) string {
	return l.prefix + ":" + strconv.FormatInt(requesterID, 10)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLock) Acquire(ctx context.Context, requesterID int64, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(requesterID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock failed: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.tokens[requesterID] = token
		l.mu.Unlock()
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context, requesterID int64) error {
	l.mu.Lock()
	token, ok := l.tokens[requesterID]
	delete(l.tokens, requesterID)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key(requesterID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock failed: %w", err)
	}
	return nil
}

func (l *RedisLock) Held(ctx context.Context, requesterID int64) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(requesterID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}
