package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const userTracer = "gorm-user-repository"

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) Create(ctx context.Context, user *models.User) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "CreateUser")
	defer func() { done(err) }()

	if user == nil {
		return pkgerrors.ErrNilUser
	}
	if user.Email == "" || user.PasswordHash == "" || user.ReferralCode == "" {
		return fmt.Errorf("%w: email, password_hash and referral_code are required", pkgerrors.ErrInvalidInput)
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	err = r.db.WithContext(ctx).Create(user).Error
	if column, ok := uniqueViolation(err); ok {
		if strings.Contains(column, "referral_code") {
			return pkgerrors.ErrReferralCodeTaken
		}
		return pkgerrors.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (user *models.User, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserByID")
	defer func() { done(err) }()

	return r.first(ctx, "id = ?", id)
}

// GetByIDForUpdate relies on the single connection for exclusion; SQLite has
// no row locks.
func (r *userRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (user *models.User, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserByIDForUpdate")
	defer func() { done(err) }()

	return r.first(ctx, "id = ?", id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (user *models.User, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserByEmail")
	defer func() { done(err) }()

	if email == "" {
		return nil, fmt.Errorf("%w: email cannot be empty", pkgerrors.ErrInvalidInput)
	}
	return r.first(ctx, "email = ?", email)
}

func (r *userRepository) GetByReferralCode(ctx context.Context, code string) (user *models.User, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserByReferralCode")
	defer func() { done(err) }()

	return r.first(ctx, "referral_code = ?", code)
}

func (r *userRepository) ReferralCodeExists(ctx context.Context, code string) (exists bool, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "ReferralCodeExists")
	defer func() { done(err) }()

	var count int64
	err = r.db.WithContext(ctx).Model(&models.User{}).Where("referral_code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check referral code: %w", err)
	}
	return count > 0, nil
}

func (r *userRepository) ChangeCredits(ctx context.Context, id uuid.UUID, delta int64) (newBalance int64, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "ChangeCredits")
	defer func() { done(err) }()

	db := r.db.WithContext(ctx)
	res := db.Model(&models.User{}).
		Where("id = ? AND credits + ? >= 0", id, delta).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits + ?", delta),
			"updated_at": db.NowFunc(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to change credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, pkgerrors.ErrInsufficientCredits
	}

	if err = db.Model(&models.User{}).Select("credits").Where("id = ?", id).Row().Scan(&newBalance); err != nil {
		return 0, fmt.Errorf("failed to read credits: %w", err)
	}
	return newBalance, nil
}

func (r *userRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "UpdatePasswordHash")
	defer func() { done(err) }()

	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("password_hash", hash)
	if res.Error != nil {
		return fmt.Errorf("failed to update password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}

func (r *userRepository) first(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
