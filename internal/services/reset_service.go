package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

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

const (
	DefaultResetTTL  = time.Hour
	resetTokenBytes  = 32
	resetTracerName  = "reset-service"
	resetPagePath    = "/reset-password"
	resetTokenParam  = "token"
	resetTokenPrefix = 10
)

type ResetService interface {
	RequestReset(ctx context.Context, email string) error
	ConsumeReset(ctx context.Context, token, newPassword string) error
	CheckReset(ctx context.Context, token string) error
}

type resetService struct {
	uow         repository.UnitOfWork
	hasher      PasswordHasher
	notifier    Notifier
	sessions    SessionStore
	clock       Clock
	ttl         time.Duration
	frontendURL string
	logger      *zerolog.Logger
}

// NewResetService wires the reset flow. sessions may be nil when logins are
// not tracked.
func NewResetService(
	uow repository.UnitOfWork,
	hasher PasswordHasher,
	notifier Notifier,
	sessions SessionStore,
	clock Clock,
	ttl time.Duration,
	frontendURL string,
	logger *zerolog.Logger,
) *resetService {
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}
	return &resetService{
		uow:         uow,
		hasher:      hasher,
		notifier:    notifier,
		sessions:    sessions,
		clock:       clock,
		ttl:         ttl,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func tokenPrefix(token string) string {
	if len(token) <= resetTokenPrefix {
		return token
	}
	return token[:resetTokenPrefix]
}

func (s *resetService) resetURL(token string) string {
	return s.frontendURL + resetPagePath + "?" + url.Values{resetTokenParam: {token}}.Encode()
}

func (s *resetService) RequestReset(ctx context.Context, email string) error {
	ctx, span := otel.Tracer(resetTracerName).Start(ctx, "RequestReset")
	defer span.End()
	logger := observability.WithContext(ctx, s.logger)

	if err := ValidateEmail(email); err != nil {
		span.SetStatus(codes.Error, "invalid email")
		return err
	}
	email = normalizeEmail(email)

	user, err := s.uow.Repositories().Users.GetByEmail(ctx, email)
	if errors.Is(err, pkgerrors.ErrUserNotFound) {
		logger.Info().Msg("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		logger.Error().Err(err).Msg("failed to look up user for password reset")
		return fmt.Errorf("%w: failed to look up user", pkgerrors.ErrInternal)
	}
	span.SetAttributes(attribute.String("user_id", user.ID.String()))

	token, err := newResetToken()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", pkgerrors.ErrInternal, err)
	}
	record := &models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: HashResetToken(token),
		ExpiresAt: s.clock.Now().Add(s.ttl),
	}

	var superseded int64
	err = s.uow.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		n, err := repos.ResetTokens.DeleteByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		superseded = n
		return repos.ResetTokens.Create(ctx, record)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issuance failed")
		logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to issue reset token")
		return fmt.Errorf("%w: failed to issue reset token", pkgerrors.ErrInternal)
	}
	observability.ResetTokens.WithLabelValues("issued").Inc()
	if superseded > 0 {
		observability.ResetTokens.WithLabelValues("superseded").Add(float64(superseded))
	}
	logger.Info().
		Str("user_id", user.ID.String()).
		Str("token_id", record.ID.String()).
		Int64("superseded", superseded).
		Msg("reset token issued")

	n := notify.New(notify.KindPasswordReset, user, map[string]string{
		"reset_url":  s.resetURL(token),
		"expires_in": s.ttl.String(),
	})
	if err := s.notifier.Send(ctx, n); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reset email failed")
		logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to send password reset email")
		return fmt.Errorf("%w: %v", pkgerrors.ErrNotificationFailed, err)
	}
	return nil
}

func (s *resetService) CheckReset(ctx context.Context, token string) error {
	ctx, span := otel.Tracer(resetTracerName).Start(ctx, "CheckReset")
	defer span.End()

	if token == "" {
		return pkgerrors.ErrInvalidOrExpiredToken
	}
	_, err := s.uow.Repositories().ResetTokens.FindValid(ctx, HashResetToken(token), s.clock.Now())
	if errors.Is(err, pkgerrors.ErrTokenNotFound) {
		return pkgerrors.ErrInvalidOrExpiredToken
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Msg("failed to check reset token")
		return fmt.Errorf("%w: failed to check reset token", pkgerrors.ErrInternal)
	}
	return nil
}

func (s *resetService) ConsumeReset(ctx context.Context, token, newPassword string) error {
	ctx, span := otel.Tracer(resetTracerName).Start(ctx, "ConsumeReset")
	defer span.End()
	logger := observability.WithContext(ctx, s.logger).With().Str("token_prefix", tokenPrefix(token)).Logger()

	if token == "" {
		return pkgerrors.ErrInvalidOrExpiredToken
	}
	if err := ValidateConsumeReset(token, newPassword); err != nil {
		var verr *pkgerrors.ValidationError
		if errors.As(err, &verr) && hasField(verr, "token") {
			return pkgerrors.ErrInvalidOrExpiredToken
		}
		return err
	}

	found, err := s.uow.Repositories().ResetTokens.FindValid(ctx, HashResetToken(token), s.clock.Now())
	if errors.Is(err, pkgerrors.ErrTokenNotFound) {
		logger.Warn().Msg("reset token not found or invalid")
		observability.ResetTokens.WithLabelValues("rejected").Inc()
		return pkgerrors.ErrInvalidOrExpiredToken
	}
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("failed to look up reset token")
		return fmt.Errorf("%w: failed to look up reset token", pkgerrors.ErrInternal)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("failed to hash new password")
		return fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	err = s.uow.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		locked, err := repos.ResetTokens.LockValid(ctx, found.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if err := repos.Users.UpdatePasswordHash(ctx, locked.UserID, hash); err != nil {
			return err
		}
		if err := repos.ResetTokens.MarkUsed(ctx, locked.ID); err != nil {
			return err
		}
		_, err = repos.ResetTokens.DeleteByUser(ctx, locked.UserID)
		return err
	})
	if errors.Is(err, pkgerrors.ErrTokenNotFound) || errors.Is(err, pkgerrors.ErrUserNotFound) {
		logger.Warn().Err(err).Str("token_id", found.ID.String()).Msg("reset token used or expired during processing")
		observability.ResetTokens.WithLabelValues("rejected").Inc()
		return pkgerrors.ErrInvalidOrExpiredToken
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password reset failed")
		logger.Error().Err(err).Str("token_id", found.ID.String()).Msg("failed to reset password")
		return fmt.Errorf("%w: failed to reset password", pkgerrors.ErrInternal)
	}
	observability.ResetTokens.WithLabelValues("consumed").Inc()
	logger.Info().Str("user_id", found.UserID.String()).Msg("password reset completed")

	if s.sessions != nil {
		if err := s.sessions.Revoke(ctx, found.UserID); err != nil {
			logger.Error().Err(err).Str("user_id", found.UserID.String()).Msg("failed to revoke sessions")
		}
	}
	user, err := s.uow.Repositories().Users.GetByID(ctx, found.UserID)
	if err != nil {
		logger.Error().Err(err).Str("user_id", found.UserID.String()).Msg("failed to load user for confirmation email")
		return nil
	}
	s.notifier.Dispatch(notify.New(notify.KindPasswordResetConfirmation, user, nil))
	return nil
}

func hasField(verr *pkgerrors.ValidationError, field string) bool {
	for _, f := range verr.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}
