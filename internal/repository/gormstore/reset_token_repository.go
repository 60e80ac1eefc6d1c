package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const resetTokenTracer = "gorm-reset-token-repository"

type resetTokenRepository struct {
	db *gorm.DB
}

func (r *resetTokenRepository) Create(ctx context.Context, token *models.PasswordResetToken) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "CreateResetToken")
	defer func() { done(err) }()

	if token == nil {
		return pkgerrors.ErrNilToken
	}
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.Used = false
	if err = r.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}
	return nil
}

func (r *resetTokenRepository) FindValid(ctx context.Context, tokenHash string, now time.Time) (token *models.PasswordResetToken, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "FindValidResetToken")
	defer func() { done(err) }()

	return r.first(ctx, "token_hash = ? AND used = ? AND expires_at > ?", tokenHash, false, now)
}

func (r *resetTokenRepository) LockValid(ctx context.Context, id uuid.UUID, now time.Time) (token *models.PasswordResetToken, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "LockValidResetToken")
	defer func() { done(err) }()

	return r.first(ctx, "id = ? AND used = ? AND expires_at > ?", id, false, now)
}

func (r *resetTokenRepository) MarkUsed(ctx context.Context, id uuid.UUID) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "MarkResetTokenUsed")
	defer func() { done(err) }()

	res := r.db.WithContext(ctx).Model(&models.PasswordResetToken{}).
		Where("id = ? AND used = ?", id, false).
		Update("used", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark reset token used: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrTokenNotFound
	}
	return nil
}

func (r *resetTokenRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) (n int64, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "DeleteResetTokensByUser")
	defer func() { done(err) }()

	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.PasswordResetToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete reset tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *resetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (n int64, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "DeleteExpiredResetTokens")
	defer func() { done(err) }()

	res := r.db.WithContext(ctx).Where("used = ? OR expires_at <= ?", true, now).Delete(&models.PasswordResetToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired reset tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *resetTokenRepository) first(ctx context.Context, query string, args ...any) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken
	err := r.db.WithContext(ctx).Where(query, args...).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}
	return &token, nil
}
