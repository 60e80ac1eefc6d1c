package redis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	idempotencyTTL = 24 * time.Hour
	pendingMarker  = "pending"
)

// IdempotencyStore reserves request keys so a retried request is recognized.
type IdempotencyStore struct {
	client RedisClient
	prefix string
}

func NewIdempotencyStore(client RedisClient, prefix string) *IdempotencyStore {
	return &IdempotencyStore{client: client, prefix: prefix}
}

func (s *IdempotencyStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Reserve returns false when the key was already reserved or completed.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), pendingMarker, idempotencyTTL)
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, result string) error {
	return s.client.Set(ctx, s.key(key), result, idempotencyTTL)
}

// Lookup returns the result recorded by Complete, or "" while the key is
// still pending or has expired.
func (s *IdempotencyStore) Lookup(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key))
	if errors.Is(err, ErrKeyNotFound) || val == pendingMarker {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key))
}
