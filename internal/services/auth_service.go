package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/honeynil/referral-credit-service/internal/models"
	"github.com/honeynil/referral-credit-service/internal/repository"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	// IssueToken signs a session token for an already authenticated user.
	IssueToken(ctx context.Context, user *models.User) (string, error)
	Profile(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

type authService struct {
	users    repository.UserRepository
	hasher   PasswordHasher
	tokens   TokenIssuer
	sessions SessionStore
	logger   *zerolog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	hasher PasswordHasher,
	tokens TokenIssuer,
	sessions SessionStore,
	logger *zerolog.Logger,
) *authService {
	return &authService{users: users, hasher: hasher, tokens: tokens, sessions: sessions, logger: logger}
}

func (s *authService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	ctx, span := otel.Tracer("auth-service").Start(ctx, "Login")
	defer span.End()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", nil, pkgerrors.ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrUserNotFound) {
			span.RecordError(err)
			s.logger.Error().Err(err).Msg("failed to load user for login")
		}
		return "", nil, pkgerrors.ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		s.logger.Warn().Str("user_id", user.ID.String()).Msg("invalid password")
		return "", nil, pkgerrors.ErrInvalidCredentials
	}

	token, err := s.IssueToken(ctx, user)
	if err != nil {
		span.RecordError(err)
		return "", nil, err
	}

	s.logger.Info().Str("user_id", user.ID.String()).Msg("user logged in")
	return token, user, nil
}

func (s *authService) IssueToken(ctx context.Context, user *models.User) (string, error) {
	token, err := s.tokens.GenerateJWT(user.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate JWT")
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	if s.sessions != nil {
		if err := s.sessions.Save(ctx, user.ID, token, s.tokens.TTL()); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to cache JWT")
		}
	}
	return token, nil
}

func (s *authService) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	ctx, span := otel.Tracer("auth-service").Start(ctx, "Profile")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return user, nil
}
