package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/auth"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/security"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

func TestAuthService(t *testing.T) {
	store := newStore(t)
	hasher := security.NewFastHasher()
	jwtService := auth.NewJWTService("secret", time.Hour)
	sessions := newFakeSessions()
	svc := NewAuthService(store.Repositories().Users, hasher, jwtService, sessions, &nopLogger)
	ctx := context.Background()

	hash, err := hasher.Hash("Passw0rd!")
	require.NoError(t, err)
	user := seedUser(t, store, "ivy@example.com", "IVY001", 0)
	require.NoError(t, store.Repositories().Users.UpdatePasswordHash(ctx, user.ID, hash))

	t.Run("Login", func(t *testing.T) {
		token, got, err := svc.Login(ctx, "IVY@example.com", "Passw0rd!")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)

		claims, err := jwtService.ValidateJWT(token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, token, sessions.saved[user.ID])
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "ivy@example.com", "Wrong0ne")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nobody@example.com", "Passw0rd!")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("Profile", func(t *testing.T) {
		got, err := svc.Profile(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "ivy@example.com", got.Email)

		_, err = svc.Profile(ctx, uuid.New())
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})
}
