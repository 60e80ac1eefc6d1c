package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const purchaseTracer = "gorm-purchase-repository"

type purchaseRepository struct {
	db *gorm.DB
}

func (r *purchaseRepository) Create(ctx context.Context, p *models.Purchase) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, purchaseTracer, "CreatePurchase")
	defer func() { done(err) }()

	if p == nil {
		return pkgerrors.ErrNilPurchase
	}
	if !p.Currency.Valid() {
		return fmt.Errorf("%w: invalid currency %q", pkgerrors.ErrInvalidInput, p.Currency)
	}
	if p.Amount.IsNegative() || p.CreditsUsed < 0 {
		return fmt.Errorf("%w: amount and credits_used must not be negative", pkgerrors.ErrInvalidInput)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if err = r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

func (r *purchaseRepository) GetByID(ctx context.Context, id uuid.UUID) (p *models.Purchase, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, purchaseTracer, "GetPurchaseByID")
	defer func() { done(err) }()

	var purchase models.Purchase
	err = r.db.WithContext(ctx).Where("id = ?", id).First(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase by id: %w", err)
	}
	return &purchase, nil
}

func (r *purchaseRepository) AttachReferralCredit(ctx context.Context, purchaseID uuid.UUID, credit models.ReferralCredit) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, purchaseTracer, "AttachReferralCredit")
	defer func() { done(err) }()

	res := r.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND referral_referrer_id IS NULL", purchaseID).
		Updates(map[string]any{
			"referral_referrer_id":   credit.ReferrerID,
			"referral_credit_amount": credit.Amount,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to attach referral credit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: no purchase without referral credit", pkgerrors.ErrPurchaseNotFound)
	}
	return nil
}
