package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const resetTokenTracer = "reset-token-repository"

const resetTokenColumns = `id, user_id, token_hash, expires_at, used, created_at`

type PostgresResetTokenRepository struct {
	db     DBTX
	logger *zerolog.Logger
}

func NewPostgresResetTokenRepository(db DBTX, logger *zerolog.Logger) *PostgresResetTokenRepository {
	return &PostgresResetTokenRepository{db: db, logger: logger}
}

func (r *PostgresResetTokenRepository) Create(ctx context.Context, token *models.PasswordResetToken) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "CreateResetToken")
	defer func() { done(err) }()

	if token == nil {
		return pkgerrors.ErrNilToken
	}
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	span.SetAttributes(attribute.String("user_id", token.UserID.String()))

	query := `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, used)
		VALUES ($1, $2, $3, $4, false)
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query, token.ID, token.UserID, token.TokenHash, token.ExpiresAt).Scan(&token.CreatedAt)
	if err != nil {
		r.logger.Error().Err(err).Str("method", "Create").Str("user_id", token.UserID.String()).Msg("failed to create reset token")
		return fmt.Errorf("failed to create reset token: %w", mapError(err))
	}
	token.Used = false
	return nil
}

func (r *PostgresResetTokenRepository) FindValid(ctx context.Context, tokenHash string, now time.Time) (token *models.PasswordResetToken, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "FindValidResetToken")
	defer func() { done(err) }()

	query := `SELECT ` + resetTokenColumns + ` FROM password_reset_tokens
		WHERE token_hash = $1 AND used = false AND expires_at > $2`
	return r.getOne(ctx, query, tokenHash, now)
}

func (r *PostgresResetTokenRepository) LockValid(ctx context.Context, id uuid.UUID, now time.Time) (token *models.PasswordResetToken, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "LockValidResetToken")
	defer func() { done(err) }()

	query := `SELECT ` + resetTokenColumns + ` FROM password_reset_tokens
		WHERE id = $1 AND used = false AND expires_at > $2
		FOR UPDATE`
	return r.getOne(ctx, query, id, now)
}

func (r *PostgresResetTokenRepository) MarkUsed(ctx context.Context, id uuid.UUID) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "MarkResetTokenUsed")
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE password_reset_tokens SET used = true WHERE id = $1 AND used = false`, id)
	if err != nil {
		return fmt.Errorf("failed to mark reset token used: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark reset token used: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrTokenNotFound
	}
	return nil
}

func (r *PostgresResetTokenRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) (n int64, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "DeleteResetTokensByUser")
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reset tokens: %w", mapError(err))
	}
	return res.RowsAffected()
}

func (r *PostgresResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (n int64, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, resetTokenTracer, "DeleteExpiredResetTokens")
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE used = true OR expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reset tokens: %w", mapError(err))
	}
	return res.RowsAffected()
}

func (r *PostgresResetTokenRepository) getOne(ctx context.Context, query string, args ...any) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.Used,
		&token.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reset token: %w", mapError(err))
	}
	return &token, nil
}
