package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// idempotencyStore guards quiz creation against client retries. Begin claims
// a request id; a duplicate call reports the quiz already created for it, or
// that the first attempt is still running.
type idempotencyStore interface {
	Begin(ctx context.Context, key string) (started bool, existingID string, err error)
	Complete(ctx context.Context, key, resultID string) error
	Abort(ctx context.Context, key string) error
}

const (
	idemPrefix     = "idem:"
	idemPending    = "pending"
	idemPendingTTL = 10 * time.Minute
	idemResultTTL  = 24 * time.Hour
)

type redisIdempotency struct {
	client *redis.Client
}

func newRedisIdempotency(client *redis.Client) *redisIdempotency {
	return &redisIdempotency{client: client}
}

func (s *redisIdempotency) Begin(ctx context.Context, key string) (bool, string, error) {
	ok, err := s.client.SetNX(ctx, idemPrefix+key, idemPending, idemPendingTTL).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}
	value, err := s.client.Get(ctx, idemPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// claim expired between SetNX and Get, treat as in flight
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if value == idemPending {
		return false, "", nil
	}
	return false, value, nil
}

func (s *redisIdempotency) Complete(ctx context.Context, key, resultID string) error {
	return s.client.Set(ctx, idemPrefix+key, resultID, idemResultTTL).Err()
}

func (s *redisIdempotency) Abort(ctx context.Context, key string) error {
	return s.client.Del(ctx, idemPrefix+key).Err()
}

type memoryIdempotency struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{entries: make(map[string]string)}
}

func (s *memoryIdempotency) Begin(_ context.Context, key string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	if !ok {
		s.entries[key] = idemPending
		return true, "", nil
	}
	if value == idemPending {
		return false, "", nil
	}
	return false, value, nil
}

func (s *memoryIdempotency) Complete(_ context.Context, key, resultID string) error {
	s.mu.Lock()
	s.entries[key] = resultID
	s.mu.Unlock()
	return nil
}

func (s *memoryIdempotency) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
