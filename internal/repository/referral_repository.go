package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/honeynil/referral-credit-service/internal/models"
)

type ReferralRepository interface {
	// Create is a no-op for an existing (referrer, referred) pair; the stored
	// edge is loaded into referral and created reports false.
	Create(ctx context.Context, referral *models.Referral) (created bool, err error)
	GetByPair(ctx context.Context, referrerID, referredID uuid.UUID) (*models.Referral, error)
	// CompletePending moves the oldest pending referral of referredID to
	// completed. ErrReferralNotFound when there is none left to complete.
	CompletePending(ctx context.Context, referredID uuid.UUID, creditsEarned int64, at time.Time) (*models.Referral, error)
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
