package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/honeynil/referral-credit-service/internal/models"
)

type PurchaseRepository interface {
	Create(ctx context.Context, purchase *models.Purchase) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	// AttachReferralCredit only succeeds while the purchase has no snapshot.
	AttachReferralCredit(ctx context.Context, purchaseID uuid.UUID, credit models.ReferralCredit) error
}
