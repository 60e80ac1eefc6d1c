package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/notify"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/security"
	"github.com/honeynil/referral-credit-service/internal/models"
	"github.com/honeynil/referral-credit-service/internal/repository"
	"github.com/honeynil/referral-credit-service/internal/repository/gormstore"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func registration(email, code string) RegisterRequest {
	return RegisterRequest{
		FirstName:    "Bob",
		LastName:     "Stone",
		Email:        email,
		Password:     "Passw0rd!",
		ReferralCode: code,
	}
}

// blindUsers hides existing codes so a taken code is only caught on insert.
type blindUsers struct {
	repository.UserRepository
}

func (blindUsers) ReferralCodeExists(context.Context, string) (bool, error) {
	return false, nil
}

type blindUnitOfWork struct {
	*gormstore.Store
}

func (u blindUnitOfWork) Repositories() repository.Repositories {
	repos := u.Store.Repositories()
	repos.Users = blindUsers{repos.Users}
	return repos
}

func TestGenerateUniqueReferralCode(t *testing.T) {
	store := newStore(t)
	seedUser(t, store, "alice@example.com", "ABC123", 0)
	ctx := context.Background()

	t.Run("Format", func(t *testing.T) {
		svc := NewReferralService(store, security.NewFastHasher(), &recordingNotifier{}, 10, &nopLogger)
		code, err := svc.GenerateUniqueReferralCode(ctx)
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)
	})

	t.Run("SkipsTakenCodes", func(t *testing.T) {
		svc := NewReferralService(store, security.NewFastHasher(), &recordingNotifier{}, 10, &nopLogger)
		svc.newCode = codeSequence("ABC123", "ABC123", "XYZ789")
		code, err := svc.GenerateUniqueReferralCode(ctx)
		require.NoError(t, err)
		assert.Equal(t, "XYZ789", code)
	})

	t.Run("Exhausted", func(t *testing.T) {
		svc := NewReferralService(store, security.NewFastHasher(), &recordingNotifier{}, 3, &nopLogger)
		svc.newCode = codeSequence("ABC123")
		_, err := svc.GenerateUniqueReferralCode(ctx)
		assert.ErrorIs(t, err, pkgerrors.ErrCodeGenerationExhausted)
	})
}

func TestRegister(t *testing.T) {
	store := newStore(t)
	notifier := &recordingNotifier{}
	svc := NewReferralService(store, security.NewFastHasher(), notifier, 10, &nopLogger)
	ctx := context.Background()

	alice, err := svc.Register(ctx, RegisterRequest{
		FirstName: "Alice",
		LastName:  "Smith",
		Email:     "Alice@Example.com",
		Password:  "Passw0rd!",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", alice.Email)
	assert.Regexp(t, codePattern, alice.ReferralCode)
	assert.Nil(t, alice.ReferredBy)
	assert.NotEqual(t, "Passw0rd!", alice.PasswordHash)
	welcome := notifier.byKind(notify.KindWelcome)
	require.Len(t, welcome, 1)
	assert.Equal(t, alice.ReferralCode, welcome[0].Data["referral_code"])

	t.Run("WithReferralCode", func(t *testing.T) {
		bob, err := svc.Register(ctx, registration("bob@example.com", " "+strings.ToLower(alice.ReferralCode)))
		require.NoError(t, err)
		require.NotNil(t, bob.ReferredBy)
		assert.Equal(t, alice.ID, *bob.ReferredBy)

		ref, err := store.Repositories().Referrals.GetByPair(ctx, alice.ID, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReferralPending, ref.Status)

		require.Len(t, notifier.byKind(notify.KindReferralWelcome), 1)
		signup := notifier.byKind(notify.KindReferralSignup)
		require.Len(t, signup, 1)
		assert.Equal(t, alice.ID, signup[0].Recipient.UserID)
	})

	t.Run("UnknownReferralCode", func(t *testing.T) {
		_, err := svc.Register(ctx, registration("carol@example.com", "NOPE99"))
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidReferralCode)
		_, err = store.Repositories().Users.GetByEmail(ctx, "carol@example.com")
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})

	t.Run("EmailTakenIgnoresCase", func(t *testing.T) {
		_, err := svc.Register(ctx, registration("ALICE@example.com", ""))
		assert.ErrorIs(t, err, pkgerrors.ErrEmailTaken)
	})

	t.Run("Validation", func(t *testing.T) {
		req := registration("dave@example.com", "")
		req.Password = "password"
		req.FirstName = "D"
		_, err := svc.Register(ctx, req)
		var verr *pkgerrors.ValidationError
		require.ErrorAs(t, err, &verr)
		fields := map[string]bool{}
		for _, f := range verr.Fields {
			fields[f.Field] = true
		}
		assert.True(t, fields["first_name"])
		assert.True(t, fields["password"])
	})
}

func TestRegister_RetriesCodeTakenOnInsert(t *testing.T) {
	store := newStore(t)
	seedUser(t, store, "alice@example.com", "ABC123", 0)

	svc := NewReferralService(blindUnitOfWork{store}, security.NewFastHasher(), &recordingNotifier{}, 5, &nopLogger)
	svc.newCode = codeSequence("ABC123", "NEW001")

	user, err := svc.Register(context.Background(), registration("bob@example.com", ""))
	require.NoError(t, err)
	assert.Equal(t, "NEW001", user.ReferralCode)
}

func TestRegister_ConcurrentRegistrationsGetDistinctCodes(t *testing.T) {
	store := newStore(t)
	svc := NewReferralService(store, security.NewFastHasher(), &recordingNotifier{}, 10, &nopLogger)

	const users = 6
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[string]bool{}
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := svc.Register(context.Background(), registration(uuid.NewString()+"@example.com", ""))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			codes[u.ReferralCode] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Len(t, codes, users)
}

func TestValidateReferralCode(t *testing.T) {
	store := newStore(t)
	svc := NewReferralService(store, security.NewFastHasher(), &recordingNotifier{}, 10, &nopLogger)
	alice := seedUser(t, store, "alice@example.com", "ABC123", 0)
	bob := seedUser(t, store, "bob@example.com", "BOB001", 0)
	ctx := context.Background()

	owner, err := svc.ValidateReferralCode(ctx, "abc123", nil)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, owner.ID)

	owner, err = svc.ValidateReferralCode(ctx, "ABC123", &bob.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, owner.ID)

	_, err = svc.ValidateReferralCode(ctx, "ABC123", &alice.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrSelfReferral)

	_, err = svc.ValidateReferralCode(ctx, "ZZZ999", nil)
	assert.ErrorIs(t, err, pkgerrors.ErrReferralCodeNotFound)

	_, err = svc.ValidateReferralCode(ctx, "", nil)
	assert.ErrorIs(t, err, pkgerrors.ErrReferralCodeNotFound)
}
