package persona

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no variant is stored for a scope.
var ErrNotFound = errors.New("persona: not found")

// Store persists the chosen variant per session scope.
type Store interface {
	Get(ctx context.Context, scope string) (Variant, error)
	Set(ctx context.Context, scope string, v Variant) error
}

// MemoryStore keeps variants in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Variant
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Variant)}
}

// Get returns the stored variant or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, scope string) (Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[scope]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores v for scope.
func (s *MemoryStore) Set(_ context.Context, scope string, v Variant) error {
	if !v.Valid() {
		return fmt.Errorf("persona: invalid variant %q", v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[scope] = v
	return nil
}

// RedisStore keeps variants in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps client. A zero ttl keeps keys forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "skinvoice:persona:", ttl: ttl}
}

// Get returns the stored variant or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, scope string) (Variant, error) {
	val, err := s.client.Get(ctx, s.prefix+scope).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("persona: redis get: %w", err)
	}
	return Parse(val)
}

// Set stores v for scope.
func (s *RedisStore) Set(ctx context.Context, scope string, v Variant) error {
	if !v.Valid() {
		return fmt.Errorf("persona: invalid variant %q", v)
	}
	if err := s.client.Set(ctx, s.prefix+scope, string(v), s.ttl).Err(); err != nil {
		return fmt.Errorf("persona: redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Resolve returns the stored variant for scope, or fallback when none is
// stored or the store fails.
func Resolve(ctx context.Context, s Store, scope string, fallback Variant) Variant {
	if s == nil {
		return fallback
	}
	v, err := s.Get(ctx, scope)
	if err != nil {
		return fallback
	}
	return v
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
