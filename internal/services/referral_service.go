package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/notify"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	"github.com/honeynil/referral-credit-service/internal/repository"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const DefaultCodeAttempts = 10

type RegisterRequest struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type ReferralService interface {
	GenerateUniqueReferralCode(ctx context.Context) (string, error)
	Register(ctx context.Context, req RegisterRequest) (*models.User, error)
	// ValidateReferralCode resolves the code owner. currentUserID may be nil
	// for anonymous callers.
	ValidateReferralCode(ctx context.Context, code string, currentUserID *uuid.UUID) (*models.User, error)
}

type referralService struct {
	uow          repository.UnitOfWork
	hasher       PasswordHasher
	notifier     Notifier
	codeAttempts int
	newCode      func() (string, error)
	logger       *zerolog.Logger
}

func NewReferralService(
	uow repository.UnitOfWork,
	hasher PasswordHasher,
	notifier Notifier,
	codeAttempts int,
	logger *zerolog.Logger,
) *referralService {
	if codeAttempts <= 0 {
		codeAttempts = DefaultCodeAttempts
	}
	return &referralService{
		uow:          uow,
		hasher:       hasher,
		notifier:     notifier,
		codeAttempts: codeAttempts,
		newCode:      randomReferralCode,
		logger:       logger,
	}
}

func (s *referralService) GenerateUniqueReferralCode(ctx context.Context) (string, error) {
	ctx, span := otel.Tracer("referral-service").Start(ctx, "GenerateUniqueReferralCode")
	defer span.End()

	users := s.uow.Repositories().Users
	for attempt := 1; attempt <= s.codeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("%w: %v", pkgerrors.ErrInternal, err)
		}
		exists, err := users.ReferralCodeExists(ctx, code)
		if err != nil {
			span.RecordError(err)
			return "", err
		}
		if !exists {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return code, nil
		}
		s.logger.Debug().Int("attempt", attempt).Msg("referral code collision")
	}
	span.SetStatus(codes.Error, "referral code space exhausted")
	s.logger.Error().Int("attempts", s.codeAttempts).Msg("failed to generate unique referral code")
	return "", pkgerrors.ErrCodeGenerationExhausted
}

func (s *referralService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	ctx, span := otel.Tracer("referral-service").Start(ctx, "Register")
	defer span.End()
	logger := observability.WithContext(ctx, s.logger)

	if err := ValidateRegister(req); err != nil {
		span.SetStatus(codes.Error, "invalid registration")
		return nil, err
	}
	email := normalizeEmail(req.Email)
	users := s.uow.Repositories().Users

	existing, err := users.GetByEmail(ctx, email)
	if existing != nil {
		span.SetStatus(codes.Error, "email already registered")
		logger.Warn().Str("existing_id", existing.ID.String()).Msg("email already registered")
		return nil, pkgerrors.ErrEmailTaken
	}
	if err != nil && !errors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		logger.Error().Err(err).Msg("failed to check user existence")
		return nil, fmt.Errorf("%w: failed to check user existence", pkgerrors.ErrInternal)
	}

	var referrer *models.User
	if code := normalizeReferralCode(req.ReferralCode); code != "" {
		referrer, err = users.GetByReferralCode(ctx, code)
		if errors.Is(err, pkgerrors.ErrUserNotFound) {
			span.SetStatus(codes.Error, "invalid referral code")
			return nil, pkgerrors.ErrInvalidReferralCode
		}
		if err != nil {
			span.RecordError(err)
			logger.Error().Err(err).Msg("failed to look up referral code")
			return nil, fmt.Errorf("%w: failed to look up referral code", pkgerrors.ErrInternal)
		}
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	var user *models.User
	for attempt := 1; ; attempt++ {
		code, err := s.GenerateUniqueReferralCode(ctx)
		if err != nil {
			return nil, err
		}
		user = &models.User{
			Email:        email,
			PasswordHash: hash,
			FirstName:    strings.TrimSpace(req.FirstName),
			LastName:     strings.TrimSpace(req.LastName),
			ReferralCode: code,
		}
		if referrer != nil {
			referrerID := referrer.ID
			user.ReferredBy = &referrerID
		}

		err = s.uow.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			if err := repos.Users.Create(ctx, user); err != nil {
				return err
			}
			if referrer == nil {
				return nil
			}
			_, err := repos.Referrals.Create(ctx, &models.Referral{
				ReferrerID: referrer.ID,
				ReferredID: user.ID,
				Status:     models.ReferralPending,
			})
			return err
		})
		// A concurrent registration took the code between check and insert.
		if errors.Is(err, pkgerrors.ErrReferralCodeTaken) && attempt < s.codeAttempts {
			logger.Warn().Int("attempt", attempt).Msg("referral code taken concurrently, retrying")
			continue
		}
		if errors.Is(err, pkgerrors.ErrReferralCodeTaken) {
			return nil, pkgerrors.ErrCodeGenerationExhausted
		}
		if errors.Is(err, pkgerrors.ErrEmailTaken) {
			return nil, pkgerrors.ErrEmailTaken
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "user creation failed")
			logger.Error().Err(err).Msg("failed to create user")
			return nil, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
		}
		break
	}
	span.SetAttributes(attribute.String("user_id", user.ID.String()))

	if referrer != nil {
		s.notifier.Dispatch(notify.New(notify.KindReferralWelcome, user, map[string]string{
			"referrer_name": referrer.FullName(),
		}))
		s.notifier.Dispatch(notify.New(notify.KindReferralSignup, referrer, map[string]string{
			"referred_name": user.FullName(),
		}))
		logger.Info().
			Str("user_id", user.ID.String()).
			Str("referrer_id", referrer.ID.String()).
			Msg("user registered with referral")
	} else {
		s.notifier.Dispatch(notify.New(notify.KindWelcome, user, map[string]string{
			"referral_code": user.ReferralCode,
		}))
		logger.Info().Str("user_id", user.ID.String()).Msg("user registered")
	}
	return user, nil
}

func (s *referralService) ValidateReferralCode(ctx context.Context, code string, currentUserID *uuid.UUID) (*models.User, error) {
	ctx, span := otel.Tracer("referral-service").Start(ctx, "ValidateReferralCode")
	defer span.End()

	code = normalizeReferralCode(code)
	if code == "" {
		return nil, pkgerrors.ErrReferralCodeNotFound
	}
	owner, err := s.uow.Repositories().Users.GetByReferralCode(ctx, code)
	if errors.Is(err, pkgerrors.ErrUserNotFound) {
		return nil, pkgerrors.ErrReferralCodeNotFound
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Msg("failed to validate referral code")
		return nil, fmt.Errorf("%w: failed to validate referral code", pkgerrors.ErrInternal)
	}
	if currentUserID != nil && *currentUserID == owner.ID {
		span.SetStatus(codes.Error, "self referral")
		return nil, pkgerrors.ErrSelfReferral
	}
	return owner, nil
}
