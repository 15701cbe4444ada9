package shared

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

const pendingMarker = "pending"

// IdempotencyStore remembers processed request keys in redis.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

func idempotencyKey(module, key string) string {
	return "idempotency:" + module + ":" + key
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	ok, err := s.client.SetNX(ctx, idempotencyKey(module, key), pendingMarker, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrIdempotencyConflict
	}
	return nil
}

// Complete stores the outcome reference for a processed key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, module, result string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.SetArgs(ctx, idempotencyKey(module, key), result, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err()
}

// Result returns the stored outcome reference, or "" while still pending.
func (s *IdempotencyStore) Result(ctx context.Context, key, module string) (string, error) {
	if s == nil || s.client == nil {
		return "", nil
	}
	val, err := s.client.Get(ctx, idempotencyKey(module, key)).Result()
	if errors.Is(err, redis.Nil) || val == pendingMarker {
		return "", nil
	}
	return val, err
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	return s.client.Del(ctx, idempotencyKey(module, key)).Err()
}
