// Package dedupe remembers processed feedback message ids so a redelivered
// notification is deleted without being applied twice.
package dedupe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyConnectionURL = errors.New("dedupe: empty redis URL")
	ErrFailedToParseURL   = errors.New("dedupe: failed to parse redis URL")
	ErrConnectionFailed   = errors.New("dedupe: failed to connect to redis")
)

// Store records ids for a bounded time.
type Store interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

const keyPrefix = "feedback:seen:"

type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Seen(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(ctx context.Context, id string) error {
	return s.client.Set(ctx, keyPrefix+id, 1, s.ttl).Err()
}

// Open connects to url, retrying with a linear backoff until PING succeeds.
func Open(ctx context.Context, url string, attempts int, interval time.Duration) (redis.UniversalClient, error) {
	if url == "" {
		return nil, ErrEmptyConnectionURL
	}
	if !strings.HasPrefix(url, "redis://") && !strings.HasPrefix(url, "rediss://") {
		return nil, ErrFailedToParseURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseURL, err)
	}

	for i := range max(attempts, 1) {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrConnectionFailed, ctx.Err())
		case <-time.After(time.Duration(i+1) * interval):
		}
	}
	return nil, ErrConnectionFailed
}

// MemoryStore is a process-local Store. It only dedupes within one process.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{seen: map[string]time.Time{}, ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.seen[id]
	if !ok {
		return false, nil
	}
	if s.ttl > 0 && !s.now().Before(exp) {
		delete(s.seen, id)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Mark(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen[id] = s.now().Add(s.ttl)
	return nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
