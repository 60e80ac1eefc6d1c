package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/notify"
)

// Notifier is satisfied by *notify.BestEffort.
type Notifier interface {
	// Send delivers synchronously and reports failure.
	Send(ctx context.Context, n notify.Notification) error
	// Dispatch delivers in the background and never reports failure.
	Dispatch(n notify.Notification)
}

type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key, result string) error
	// Lookup returns the completed result, or "" while the key is pending.
	Lookup(ctx context.Context, key string) (string, error)
	Release(ctx context.Context, key string) error
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) (bool, error)
}

type SessionStore interface {
	Save(ctx context.Context, userID uuid.UUID, token string, ttl time.Duration) error
	Revoke(ctx context.Context, userID uuid.UUID) error
}

type TokenIssuer interface {
	GenerateJWT(userID uuid.UUID) (string, error)
	TTL() time.Duration
}
