package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const purchaseTracer = "purchase-repository"

type PostgresPurchaseRepository struct {
	db     DBTX
	logger *zerolog.Logger
}

func NewPostgresPurchaseRepository(db DBTX, logger *zerolog.Logger) *PostgresPurchaseRepository {
	return &PostgresPurchaseRepository{db: db, logger: logger}
}

func (r *PostgresPurchaseRepository) Create(ctx context.Context, p *models.Purchase) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, purchaseTracer, "CreatePurchase")
	defer func() { done(err) }()

	if p == nil {
		return pkgerrors.ErrNilPurchase
	}
	if p.Status != models.StatusPending && p.Status != models.StatusCompleted && p.Status != models.StatusFailed {
		return fmt.Errorf("%w: invalid purchase status %q", pkgerrors.ErrInvalidInput, p.Status)
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
	span.SetAttributes(
		attribute.String("purchase_id", p.ID.String()),
		attribute.String("user_id", p.UserID.String()),
		attribute.String("amount", p.Amount.String()),
		attribute.Int64("credits_used", p.CreditsUsed),
	)

	query := `
		INSERT INTO purchases (id, user_id, description, amount, currency, credits_used, status, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query,
		p.ID,
		p.UserID,
		p.Description,
		p.Amount,
		p.Currency,
		p.CreditsUsed,
		p.Status,
		p.CompletedAt,
	).Scan(&p.CreatedAt)
	if err != nil {
		r.logger.Error().Err(err).Str("method", "Create").Str("user_id", p.UserID.String()).Msg("failed to create purchase")
		return fmt.Errorf("failed to create purchase: %w", mapError(err))
	}
	return nil
}

func (r *PostgresPurchaseRepository) GetByID(ctx context.Context, id uuid.UUID) (p *models.Purchase, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, purchaseTracer, "GetPurchaseByID")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("purchase_id", id.String()))

	var purchase models.Purchase
	query := `
		SELECT id, user_id, description, amount, currency, credits_used, status,
		       referral_referrer_id, referral_credit_amount, completed_at, created_at
		FROM purchases WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&purchase.ID,
		&purchase.UserID,
		&purchase.Description,
		&purchase.Amount,
		&purchase.Currency,
		&purchase.CreditsUsed,
		&purchase.Status,
		&purchase.ReferralReferrerID,
		&purchase.ReferralCreditAmount,
		&purchase.CompletedAt,
		&purchase.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase by id: %w", mapError(err))
	}
	return &purchase, nil
}

func (r *PostgresPurchaseRepository) AttachReferralCredit(ctx context.Context, purchaseID uuid.UUID, credit models.ReferralCredit) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, purchaseTracer, "AttachReferralCredit")
	defer func() { done(err) }()
	span.SetAttributes(
		attribute.String("purchase_id", purchaseID.String()),
		attribute.String("referrer_id", credit.ReferrerID.String()),
	)

	res, err := r.db.ExecContext(ctx, `
		UPDATE purchases
		SET referral_referrer_id = $2, referral_credit_amount = $3
		WHERE id = $1 AND referral_referrer_id IS NULL`,
		purchaseID, credit.ReferrerID, credit.Amount,
	)
	if err != nil {
		return fmt.Errorf("failed to attach referral credit: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to attach referral credit: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no purchase without referral credit", pkgerrors.ErrPurchaseNotFound)
	}
	return nil
}
