package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/honeynil/referral-credit-service/internal/models"
)

type ResetTokenRepository interface {
	Create(ctx context.Context, token *models.PasswordResetToken) error
	// FindValid returns ErrTokenNotFound unless the token is unused and unexpired at now.
	FindValid(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error)
	// LockValid re-checks validity under a row lock.
	LockValid(ctx context.Context, id uuid.UUID, now time.Time) (*models.PasswordResetToken, error)
	// MarkUsed returns ErrTokenNotFound if the token is already used.
	MarkUsed(ctx context.Context, id uuid.UUID) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	// DeleteExpired purges used tokens and tokens expired at now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
