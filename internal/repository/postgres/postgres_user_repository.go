package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const userTracer = "user-repository"

const userColumns = `id, email, password_hash, first_name, last_name, referral_code, referred_by, credits, email_verified, created_at, updated_at`

type PostgresUserRepository struct {
	db     DBTX
	logger *zerolog.Logger
}

func NewPostgresUserRepository(db DBTX, logger *zerolog.Logger) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, logger: logger}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, userTracer, "CreateUser")
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
	span.SetAttributes(attribute.String("user_id", user.ID.String()))

	query := `
		INSERT INTO users (id, email, password_hash, first_name, last_name, referral_code, referred_by, credits, email_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.ReferralCode,
		user.ReferredBy,
		user.Credits,
		user.EmailVerified,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if constraint, ok := uniqueViolation(err); ok {
		if strings.Contains(constraint, "referral_code") {
			return pkgerrors.ErrReferralCodeTaken
		}
		return pkgerrors.ErrEmailTaken
	}
	if err != nil {
		r.logger.Error().Err(err).Str("method", "Create").Str("email", user.Email).Msg("failed to create user")
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (user *models.User, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserByID")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("user_id", id.String()))

	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresUserRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (user *models.User, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserByIDForUpdate")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("user_id", id.String()))

	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (user *models.User, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserByEmail")
	defer func() { done(err) }()

	if email == "" {
		return nil, fmt.Errorf("%w: email cannot be empty", pkgerrors.ErrInvalidInput)
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresUserRepository) GetByReferralCode(ctx context.Context, code string) (user *models.User, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserByReferralCode")
	defer func() { done(err) }()

	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code)
}

func (r *PostgresUserRepository) ReferralCodeExists(ctx context.Context, code string) (exists bool, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "ReferralCodeExists")
	defer func() { done(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE referral_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check referral code: %w", mapError(err))
	}
	return exists, nil
}

func (r *PostgresUserRepository) ChangeCredits(ctx context.Context, id uuid.UUID, delta int64) (newBalance int64, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, userTracer, "ChangeCredits")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("user_id", id.String()), attribute.Int64("delta", delta))

	query := `
		UPDATE users
		SET credits = credits + $1, updated_at = NOW()
		WHERE id = $2
		AND (credits + $1) >= 0
		RETURNING credits`
	err = r.db.QueryRowContext(ctx, query, delta, id).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Warn().Str("method", "ChangeCredits").Str("user_id", id.String()).Int64("delta", delta).
			Msg("user not found or insufficient credits")
		return 0, pkgerrors.ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("failed to change credits: %w", mapError(err))
	}
	return newBalance, nil
}

func (r *PostgresUserRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, userTracer, "UpdatePasswordHash")
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.ReferralCode,
		&user.ReferredBy,
		&user.Credits,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		r.logger.Error().Err(err).Msg("failed to get user")
		return nil, fmt.Errorf("failed to get user: %w", mapError(err))
	}
	return &user, nil
}
