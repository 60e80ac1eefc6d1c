package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/honeynil/referral-credit-service/internal/models"
)

type UserRepository interface {
	// Create fails with ErrEmailTaken or ErrReferralCodeTaken on unique violations.
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	// ChangeCredits applies delta only if the balance stays non-negative.
	ChangeCredits(ctx context.Context, id uuid.UUID, delta int64) (newBalance int64, err error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}
