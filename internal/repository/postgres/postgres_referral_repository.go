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

const referralTracer = "referral-repository"

const referralColumns = `id, referrer_id, referred_id, status, credits_earned, completed_at, created_at, updated_at`

type PostgresReferralRepository struct {
	db     DBTX
	logger *zerolog.Logger
}

func NewPostgresReferralRepository(db DBTX, logger *zerolog.Logger) *PostgresReferralRepository {
	return &PostgresReferralRepository{db: db, logger: logger}
}

func (r *PostgresReferralRepository) Create(ctx context.Context, referral *models.Referral) (created bool, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, referralTracer, "CreateReferral")
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
	span.SetAttributes(
		attribute.String("referrer_id", referral.ReferrerID.String()),
		attribute.String("referred_id", referral.ReferredID.String()),
	)

	query := `
		INSERT INTO referrals (id, referrer_id, referred_id, status, credits_earned)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (referrer_id, referred_id) DO NOTHING
		RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		referral.ID,
		referral.ReferrerID,
		referral.ReferredID,
		referral.Status,
		referral.CreditsEarned,
	).Scan(&referral.CreatedAt, &referral.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.GetByPair(ctx, referral.ReferrerID, referral.ReferredID)
		if getErr != nil {
			return false, getErr
		}
		*referral = *existing
		r.logger.Info().Str("referral_id", referral.ID.String()).Msg("referral already exists")
		return false, nil
	}
	if err != nil {
		r.logger.Error().Err(err).Str("method", "Create").Msg("failed to create referral")
		return false, fmt.Errorf("failed to create referral: %w", mapError(err))
	}
	return true, nil
}

func (r *PostgresReferralRepository) GetByPair(ctx context.Context, referrerID, referredID uuid.UUID) (referral *models.Referral, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, referralTracer, "GetReferralByPair")
	defer func() { done(err) }()

	query := `SELECT ` + referralColumns + ` FROM referrals WHERE referrer_id = $1 AND referred_id = $2`
	referral, err = scanReferral(r.db.QueryRowContext(ctx, query, referrerID, referredID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrReferralNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral: %w", mapError(err))
	}
	return referral, nil
}

func (r *PostgresReferralRepository) CompletePending(ctx context.Context, referredID uuid.UUID, creditsEarned int64, at time.Time) (referral *models.Referral, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, referralTracer, "CompletePendingReferral")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("referred_id", referredID.String()))

	// The outer status predicate is re-evaluated after the row lock is
	// granted, so a concurrent completion makes this a no-op.
	query := `
		UPDATE referrals
		SET status = 'completed', credits_earned = $2, completed_at = $3, updated_at = $3
		WHERE id = (
			SELECT id FROM referrals
			WHERE referred_id = $1 AND status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE
		)
		AND status = 'pending'
		RETURNING ` + referralColumns
	referral, err = scanReferral(r.db.QueryRowContext(ctx, query, referredID, creditsEarned, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrReferralNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Str("method", "CompletePending").Str("referred_id", referredID.String()).
			Msg("failed to complete referral")
		return nil, fmt.Errorf("failed to complete referral: %w", mapError(err))
	}
	return referral, nil
}

func (r *PostgresReferralRepository) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, referralTracer, "ExpirePendingReferrals")
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx,
		`UPDATE referrals SET status = 'expired', updated_at = NOW() WHERE status = 'pending' AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire referrals: %w", mapError(err))
	}
	return res.RowsAffected()
}

func scanReferral(row *sql.Row) (*models.Referral, error) {
	var ref models.Referral
	err := row.Scan(
		&ref.ID,
		&ref.ReferrerID,
		&ref.ReferredID,
		&ref.Status,
		&ref.CreditsEarned,
		&ref.CompletedAt,
		&ref.CreatedAt,
		&ref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}
