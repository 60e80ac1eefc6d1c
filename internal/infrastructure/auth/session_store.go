package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/redis"
)

// SessionStore keeps the last issued token per user under user:<id>:token.
type SessionStore struct {
	client redis.RedisClient
}

func NewSessionStore(client redis.RedisClient) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:token", userID)
}

func (s *SessionStore) Save(ctx context.Context, userID uuid.UUID, token string, ttl time.Duration) error {
	return s.client.Set(ctx, sessionKey(userID), token, ttl)
}

func (s *SessionStore) IsCurrent(ctx context.Context, userID uuid.UUID, token string) (bool, error) {
	stored, err := s.client.Get(ctx, sessionKey(userID))
	if errors.Is(err, redis.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == token, nil
}

func (s *SessionStore) Revoke(ctx context.Context, userID uuid.UUID) error {
	return s.client.Del(ctx, sessionKey(userID))
}
