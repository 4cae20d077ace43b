package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore persists call-limit state per shop.
// Load returns nil, nil when nothing is stored.
type StateStore interface {
	Load(ctx context.Context, shop string) (*CallLimitState, error)
	Save(ctx context.Context, shop string, state *CallLimitState) error
}

// Redis key layout for call-limit state storage.
const (
	redisKeyPrefix = "shop:call_limit:"

	// StateTTL bounds how long Redis keeps a reading. A full bucket drains in
	// Limit/LeakRate seconds, so older readings carry no information.
	StateTTL = 60 * time.Second
)

// RedisKeys returns the keys holding one shop's state.
func RedisKeys(shop string) (used, limit, lastUpdate string) {
	base := redisKeyPrefix + shop
	return base + ":used", base + ":limit", base + ":last_update"
}

// RedisStore shares call-limit state between processes talking to the same shop.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Load implements StateStore.
func (s *RedisStore) Load(ctx context.Context, shop string) (*CallLimitState, error) {
	usedKey, limitKey, lastKey := RedisKeys(shop)

	used, err := s.redis.Get(ctx, usedKey).Int()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get used calls: %w", err)
	}

	limit, err := s.redis.Get(ctx, limitKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get call limit: %w", err)
	}
	if limit <= 0 {
		limit = DefaultBucketSize
	}

	var lastUpdate time.Time
	raw, err := s.redis.Get(ctx, lastKey).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &CallLimitState{Used: used, Limit: limit, LastUpdate: lastUpdate}
	state.UpdateHealth()
	return state, nil
}

// Save implements StateStore. All three keys are written in one pipeline.
func (s *RedisStore) Save(ctx context.Context, shop string, state *CallLimitState) error {
	usedKey, limitKey, lastKey := RedisKeys(shop)

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, usedKey, state.Used, StateTTL)
	pipe.Set(ctx, limitKey, state.Limit, StateTTL)
	pipe.Set(ctx, lastKey, lastUpdateJSON, StateTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store call limit state in redis: %w", err)
	}
	return nil
}

// MemoryStore keeps state in-process; used when no Redis is configured.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]CallLimitState
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]CallLimitState)}
}

// Load implements StateStore.
func (s *MemoryStore) Load(_ context.Context, shop string) (*CallLimitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[shop]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// Save implements StateStore.
func (s *MemoryStore) Save(_ context.Context, shop string, state *CallLimitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[shop] = *state
	return nil
}
