package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyStore is the subset of Redis the idempotency guard needs.
type KeyStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

type redisKeyStore struct {
	rdb *redis.Client
}

// NewRedisKeyStore adapts a go-redis client to KeyStore.
func NewRedisKeyStore(rdb *redis.Client) KeyStore {
	return &redisKeyStore{rdb: rdb}
}

func (s *redisKeyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *redisKeyStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// IdempotencyGuard records processed event ids so redelivered events are
// acknowledged without being applied twice.
type IdempotencyGuard struct {
	store KeyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store KeyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope}, nil
}

func (g *IdempotencyGuard) key(eventID string) string {
	return fmt.Sprintf("idem:%s:%s", g.scope, eventID)
}

// CheckAndMark marks eventID as seen and reports whether it had already been seen.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.key(eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete forgets eventID so a failed delivery can be retried.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}
