package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const referralTracer = "gorm-referral-repository"

type referralRepository struct {
	db *gorm.DB
}

func (r *referralRepository) Create(ctx context.Context, referral *models.Referral) (created bool, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, referralTracer, "CreateReferral")
	defer func() { done(err) }()

	if referral == nil {
		return false, pkgerrors.ErrNilReferral
	}
	if referral.ReferrerID == referral.ReferredID {
		return false, pkgerrors.ErrSelfReferral
	}
	if referral.ID == uuid.Nil {
		referral.ID = uuid.New()
	}
	if referral.Status == "" {
		referral.Status = models.ReferralPending
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "referrer_id"}, {Name: "referred_id"}},
			DoNothing: true,
		}).
		Create(referral)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create referral: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := r.GetByPair(ctx, referral.ReferrerID, referral.ReferredID)
		if err != nil {
			return false, err
		}
		*referral = *existing
		return false, nil
	}
	return true, nil
}

func (r *referralRepository) GetByPair(ctx context.Context, referrerID, referredID uuid.UUID) (referral *models.Referral, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, referralTracer, "GetReferralByPair")
	defer func() { done(err) }()

	var ref models.Referral
	err = r.db.WithContext(ctx).Where("referrer_id = ? AND referred_id = ?", referrerID, referredID).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrReferralNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return &ref, nil
}

func (r *referralRepository) CompletePending(ctx context.Context, referredID uuid.UUID, creditsEarned int64, at time.Time) (referral *models.Referral, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, referralTracer, "CompletePendingReferral")
	defer func() { done(err) }()

	db := r.db.WithContext(ctx)
	var ref models.Referral
	err = db.Where("referred_id = ? AND status = ?", referredID, models.ReferralPending).
		Order("created_at").
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrReferralNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending referral: %w", err)
	}

	res := db.Model(&models.Referral{}).
		Where("id = ? AND status = ?", ref.ID, models.ReferralPending).
		Updates(map[string]any{
			"status":         models.ReferralCompleted,
			"credits_earned": creditsEarned,
			"completed_at":   at,
			"updated_at":     at,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to complete referral: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.ErrReferralNotFound
	}

	ref.Status = models.ReferralCompleted
	ref.CreditsEarned = creditsEarned
	ref.CompletedAt = &at
	ref.UpdatedAt = at
	return &ref, nil
}

func (r *referralRepository) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, referralTracer, "ExpirePendingReferrals")
	defer func() { done(err) }()

	db := r.db.WithContext(ctx)
	res := db.Model(&models.Referral{}).
		Where("status = ? AND created_at < ?", models.ReferralPending, cutoff).
		Updates(map[string]any{"status": models.ReferralExpired, "updated_at": db.NowFunc()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire referrals: %w", res.Error)
	}
	return res.RowsAffected, nil
}
