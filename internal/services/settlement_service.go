package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/notify"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	"github.com/honeynil/referral-credit-service/internal/repository"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

type SettleRequest struct {
	UserID      uuid.UUID
	Description string
	Amount      decimal.Decimal
	Currency    models.Currency
	CreditsUsed int64
	// IdempotencyKey is optional; a repeated key is rejected.
	IdempotencyKey string
}

type SettlementResult struct {
	Purchase *models.Purchase `json:"purchase"`
	// Referral is the edge completed by this purchase, nil when none was pending.
	Referral *models.Referral `json:"referral,omitempty"`
	// Credits is the purchaser's balance after settlement.
	Credits int64 `json:"credits"`
}

type SettlementService interface {
	SettlePurchase(ctx context.Context, req SettleRequest) (*SettlementResult, error)
}

type SettlementOption func(*settlementService)

// WithBackOff replaces the exponential backoff between retries of a
// conflicting transaction.
func WithBackOff(newBackOff func() backoff.BackOff) SettlementOption {
	return func(s *settlementService) { s.newBackOff = newBackOff }
}

func WithIdempotency(store IdempotencyStore) SettlementOption {
	return func(s *settlementService) { s.idempotency = store }
}

type settlementService struct {
	uow         repository.UnitOfWork
	notifier    Notifier
	idempotency IdempotencyStore
	policy      RewardPolicy
	clock       Clock
	maxRetries  uint64
	newBackOff  func() backoff.BackOff
	logger      *zerolog.Logger
}

func NewSettlementService(
	uow repository.UnitOfWork,
	notifier Notifier,
	policy RewardPolicy,
	clock Clock,
	maxRetries uint64,
	logger *zerolog.Logger,
	opts ...SettlementOption,
) *settlementService {
	s := &settlementService{
		uow:        uow,
		notifier:   notifier,
		policy:     policy,
		clock:      clock,
		maxRetries: maxRetries,
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type settlement struct {
	result   *SettlementResult
	referrer *models.User
	buyer    *models.User
}

func (s *settlementService) SettlePurchase(ctx context.Context, req SettleRequest) (*SettlementResult, error) {
	ctx, span := otel.Tracer("settlement-service").Start(ctx, "SettlePurchase")
	defer span.End()
	logger := observability.WithContext(ctx, s.logger)

	if err := ValidateSettle(req); err != nil {
		span.SetStatus(codes.Error, "invalid settlement request")
		observability.Settlements.WithLabelValues("invalid").Inc()
		return nil, err
	}
	req.Description = strings.TrimSpace(req.Description)
	span.SetAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("amount", req.Amount.String()),
		attribute.Int64("credits_used", req.CreditsUsed),
	)

	idemKey := ""
	if req.IdempotencyKey != "" && s.idempotency != nil {
		idemKey = fmt.Sprintf("%s:%s", req.UserID, req.IdempotencyKey)
		ok, err := s.idempotency.Reserve(ctx, idemKey)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to reserve idempotency key")
			logger.Error().Err(err).Str("user_id", req.UserID.String()).Msg("failed to reserve idempotency key")
			return nil, fmt.Errorf("%w: failed to reserve idempotency key", pkgerrors.ErrInternal)
		}
		if !ok {
			purchaseID, err := s.idempotency.Lookup(ctx, idemKey)
			if err != nil {
				logger.Error().Err(err).Str("user_id", req.UserID.String()).Msg("failed to look up idempotency result")
			}
			span.SetStatus(codes.Error, "request already processed")
			logger.Warn().Str("user_id", req.UserID.String()).Str("idempotency_key", req.IdempotencyKey).
				Str("purchase_id", purchaseID).Msg("request already processed")
			observability.Settlements.WithLabelValues("duplicate").Inc()
			return nil, &pkgerrors.DuplicateRequestError{PurchaseID: purchaseID}
		}
	}

	var out settlement
	operation := func() error {
		res, err := s.settleOnce(ctx, req)
		if errors.Is(err, pkgerrors.ErrTransientConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		logger.Warn().Err(err).Str("user_id", req.UserID.String()).Dur("wait", wait).Msg("retrying settlement")
	})
	if err != nil {
		if idemKey != "" {
			if relErr := s.idempotency.Release(context.WithoutCancel(ctx), idemKey); relErr != nil {
				logger.Error().Err(relErr).Str("user_id", req.UserID.String()).Msg("failed to release idempotency key")
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
		observability.Settlements.WithLabelValues(settlementOutcome(err)).Inc()
		if errors.Is(err, pkgerrors.ErrInsufficientCredits) || errors.Is(err, pkgerrors.ErrUserNotFound) {
			logger.Warn().Err(err).Str("user_id", req.UserID.String()).Msg("settlement rejected")
			return nil, err
		}
		logger.Error().Err(err).Str("user_id", req.UserID.String()).Msg("settlement failed")
		return nil, err
	}

	if idemKey != "" {
		if err := s.idempotency.Complete(ctx, idemKey, out.result.Purchase.ID.String()); err != nil {
			logger.Error().Err(err).Str("user_id", req.UserID.String()).Msg("failed to record idempotency result")
		}
	}
	observability.Settlements.WithLabelValues("success").Inc()

	if ref := out.result.Referral; ref != nil {
		observability.ReferralPayouts.Inc()
		if s.policy.RewardReferrer && ref.CreditsEarned > 0 && out.referrer != nil {
			s.notifier.Dispatch(notify.New(notify.KindCreditsEarned, out.referrer, map[string]string{
				"credits":       strconv.FormatInt(ref.CreditsEarned, 10),
				"referred_name": out.buyer.FullName(),
			}))
		}
		logger.Info().
			Str("purchase_id", out.result.Purchase.ID.String()).
			Str("referral_id", ref.ID.String()).
			Int64("credits_earned", ref.CreditsEarned).
			Msg("referral completed")
	}

	logger.Info().
		Str("purchase_id", out.result.Purchase.ID.String()).
		Str("user_id", req.UserID.String()).
		Int64("credits", out.result.Credits).
		Msg("purchase settled")
	return out.result, nil
}

func (s *settlementService) settleOnce(ctx context.Context, req SettleRequest) (settlement, error) {
	var out settlement
	err := s.uow.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		user, err := repos.Users.GetByIDForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		credits := user.Credits
		if req.CreditsUsed > 0 {
			if user.Credits < req.CreditsUsed {
				return pkgerrors.ErrInsufficientCredits
			}
			credits, err = repos.Users.ChangeCredits(ctx, user.ID, -req.CreditsUsed)
			if err != nil {
				return err
			}
		}

		now := s.clock.Now()
		purchase := &models.Purchase{
			UserID:      user.ID,
			Description: req.Description,
			Amount:      req.Amount,
			Currency:    req.Currency,
			CreditsUsed: req.CreditsUsed,
			Status:      models.StatusCompleted,
			CompletedAt: &now,
		}
		if err := repos.Purchases.Create(ctx, purchase); err != nil {
			return err
		}

		bonus, err := s.policy.Amount(req.Amount)
		if err != nil {
			return err
		}
		referral, err := repos.Referrals.CompletePending(ctx, user.ID, bonus, now)
		if errors.Is(err, pkgerrors.ErrReferralNotFound) {
			out = settlement{result: &SettlementResult{Purchase: purchase, Credits: credits}, buyer: user}
			return nil
		}
		if err != nil {
			return err
		}

		if bonus > 0 && s.policy.RewardReferrer {
			if _, err := repos.Users.ChangeCredits(ctx, referral.ReferrerID, bonus); err != nil {
				return fmt.Errorf("failed to credit referrer: %w", err)
			}
		}
		if bonus > 0 && s.policy.RewardReferred {
			if credits, err = repos.Users.ChangeCredits(ctx, user.ID, bonus); err != nil {
				return fmt.Errorf("failed to credit referred user: %w", err)
			}
		}

		credit := models.ReferralCredit{ReferrerID: referral.ReferrerID, Amount: bonus}
		if err := repos.Purchases.AttachReferralCredit(ctx, purchase.ID, credit); err != nil {
			return err
		}
		purchase.SetReferralCredit(credit)

		referrer, err := repos.Users.GetByID(ctx, referral.ReferrerID)
		if err != nil {
			return err
		}
		out = settlement{
			result:   &SettlementResult{Purchase: purchase, Referral: referral, Credits: credits},
			referrer: referrer,
			buyer:    user,
		}
		return nil
	})
	return out, err
}

func settlementOutcome(err error) string {
	switch {
	case errors.Is(err, pkgerrors.ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, pkgerrors.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, pkgerrors.ErrTransientConflict):
		return "conflict"
	default:
		return "error"
	}
}
