package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LastSeenStore records when an account was last online. Live presence is
// in-process state; only the last-seen timestamp is worth surviving a
// restart.
type LastSeenStore interface {
	Touch(ctx context.Context, accountID int, at time.Time) error
	LastSeen(ctx context.Context, accountID int) (time.Time, bool, error)
}

// RedisLastSeen stores last-seen timestamps in Redis.
type RedisLastSeen struct {
	client *redis.Client
	prefix string
}

// NewRedisLastSeen constructs a Redis-backed store.
func NewRedisLastSeen(client *redis.Client, prefix string) *RedisLastSeen {
	if prefix == "" {
		prefix = "presence:last_seen"
	}
	return &RedisLastSeen{client: client, prefix: prefix}
}

func (s *RedisLastSeen) key(accountID int) string {
	return fmt.Sprintf("%s:%d", s.prefix, accountID)
}

func (s *RedisLastSeen) Touch(ctx context.Context, accountID int, at time.Time) error {
	return s.client.Set(ctx, s.key(accountID), at.UTC().Format(time.RFC3339), 0).Err()
}

func (s *RedisLastSeen) LastSeen(ctx context.Context, accountID int) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, s.key(accountID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// MemoryLastSeen is the in-process fallback used when Redis is not
// configured, and in tests.
type MemoryLastSeen struct {
	mu   sync.RWMutex
	seen map[int]time.Time
}

// NewMemoryLastSeen constructs an empty in-memory store.
func NewMemoryLastSeen() *MemoryLastSeen {
	return &MemoryLastSeen{seen: make(map[int]time.Time)}
}

func (s *MemoryLastSeen) Touch(_ context.Context, accountID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[accountID] = at.UTC()
	return nil
}

func (s *MemoryLastSeen) LastSeen(_ context.Context, accountID int) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.seen[accountID]
	return at, ok, nil
}
