package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/notify"
	"github.com/honeynil/referral-credit-service/internal/models"
	"github.com/honeynil/referral-credit-service/internal/repository"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func purchase(userID uuid.UUID, amount string, creditsUsed int64) SettleRequest {
	return SettleRequest{
		UserID:      userID,
		Description: "Premium plan",
		Amount:      decimal.RequireFromString(amount),
		Currency:    models.CurrencyUSD,
		CreditsUsed: creditsUsed,
	}
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: map[string]string{}}
}

func (m *memoryIdempotency) Reserve(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = "pending"
	return true, nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = result
	return nil
}

func (m *memoryIdempotency) Lookup(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v := m.keys[key]; v != "pending" {
		return v, nil
	}
	return "", nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// flakyUnitOfWork fails the first failures transactions with a transient conflict.
type flakyUnitOfWork struct {
	repository.UnitOfWork
	mu       sync.Mutex
	failures int
	calls    int
}

func (u *flakyUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	u.mu.Lock()
	u.calls++
	fail := u.calls <= u.failures
	u.mu.Unlock()
	if fail {
		return pkgerrors.ErrTransientConflict
	}
	return u.UnitOfWork.WithinTx(ctx, fn)
}

func TestSettlePurchase_FirstPurchaseCompletesReferral(t *testing.T) {
	store := newStore(t)
	notifier := &recordingNotifier{}
	svc := NewSettlementService(store, notifier, DefaultRewardPolicy(), newFakeClock(), 3, &nopLogger)
	ctx := context.Background()

	alice := seedUser(t, store, "alice@example.com", "ABC123", 0)
	bob := seedUser(t, store, "bob@example.com", "BOB001", 0)
	ref := seedReferral(t, store, alice, bob)

	res, err := svc.SettlePurchase(ctx, purchase(bob.ID, "50.00", 0))
	require.NoError(t, err)
	require.NotNil(t, res.Referral)
	assert.Equal(t, ref.ID, res.Referral.ID)
	assert.Equal(t, models.ReferralCompleted, res.Referral.Status)
	assert.Equal(t, int64(2), res.Referral.CreditsEarned)
	assert.Equal(t, int64(2), res.Credits)
	assert.Equal(t, models.StatusCompleted, res.Purchase.Status)
	require.NotNil(t, res.Purchase.ReferralCredit())
	assert.Equal(t, models.ReferralCredit{ReferrerID: alice.ID, Amount: 2}, *res.Purchase.ReferralCredit())

	assert.Equal(t, int64(2), creditsOf(t, store, alice.ID))
	assert.Equal(t, int64(2), creditsOf(t, store, bob.ID))

	stored, err := store.Repositories().Purchases.GetByID(ctx, res.Purchase.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReferralCredit())
	assert.Equal(t, int64(2), stored.ReferralCredit().Amount)

	earned := notifier.byKind(notify.KindCreditsEarned)
	require.Len(t, earned, 1)
	assert.Equal(t, alice.ID, earned[0].Recipient.UserID)
	assert.Equal(t, "2", earned[0].Data["credits"])

	t.Run("SecondPurchaseHasNoReferralSideEffects", func(t *testing.T) {
		res, err := svc.SettlePurchase(ctx, purchase(bob.ID, "20.00", 1))
		require.NoError(t, err)
		assert.Nil(t, res.Referral)
		assert.Nil(t, res.Purchase.ReferralCredit())
		assert.Equal(t, int64(1), res.Credits)
		assert.Equal(t, int64(2), creditsOf(t, store, alice.ID))
		assert.Len(t, notifier.byKind(notify.KindCreditsEarned), 1)
	})
}

func TestSettlePurchase_Credits(t *testing.T) {
	store := newStore(t)
	svc := NewSettlementService(store, &recordingNotifier{}, DefaultRewardPolicy(), newFakeClock(), 3, &nopLogger)
	ctx := context.Background()

	carol := seedUser(t, store, "carol@example.com", "CAR001", 10)

	t.Run("SpendsCredits", func(t *testing.T) {
		res, err := svc.SettlePurchase(ctx, purchase(carol.ID, "10", 4))
		require.NoError(t, err)
		assert.Equal(t, int64(6), res.Credits)
		assert.Equal(t, int64(4), res.Purchase.CreditsUsed)
	})

	t.Run("InsufficientCredits", func(t *testing.T) {
		_, err := svc.SettlePurchase(ctx, purchase(carol.ID, "10", 7))
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientCredits)
		assert.Equal(t, int64(6), creditsOf(t, store, carol.ID))
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, err := svc.SettlePurchase(ctx, purchase(uuid.New(), "10", 0))
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})
}

func TestSettlePurchase_Validation(t *testing.T) {
	store := newStore(t)
	svc := NewSettlementService(store, &recordingNotifier{}, DefaultRewardPolicy(), newFakeClock(), 3, &nopLogger)
	user := seedUser(t, store, "dave@example.com", "DAV001", 0)

	tests := []struct {
		name  string
		req   SettleRequest
		field string
	}{
		{"ZeroAmount", purchase(user.ID, "0", 0), "amount"},
		{"SubCentAmount", purchase(user.ID, "0.001", 0), "amount"},
		{"ThreeDecimalPlaces", purchase(user.ID, "19.999", 0), "amount"},
		{"AmountAboveColumnBound", purchase(user.ID, "100000000000", 0), "amount"},
		{"HugeAmount", purchase(user.ID, "1e30", 0), "amount"},
		{"NegativeCredits", purchase(user.ID, "5", -1), "credits_used"},
		{"UnknownCurrency", func() SettleRequest { r := purchase(user.ID, "5", 0); r.Currency = "JPY"; return r }(), "currency"},
		{"EmptyDescription", func() SettleRequest { r := purchase(user.ID, "5", 0); r.Description = "  "; return r }(), "description"},
		{"MissingUser", purchase(uuid.Nil, "5", 0), "user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SettlePurchase(context.Background(), tt.req)
			require.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
			var verr *pkgerrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestSettlePurchase_ConcurrentSettlementsPayOnce(t *testing.T) {
	store := newStore(t)
	svc := NewSettlementService(store, &recordingNotifier{}, DefaultRewardPolicy(), newFakeClock(), 3, &nopLogger)

	alice := seedUser(t, store, "alice@example.com", "ABC123", 0)
	bob := seedUser(t, store, "bob@example.com", "BOB001", 0)
	seedReferral(t, store, alice, bob)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		payouts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.SettlePurchase(context.Background(), purchase(bob.ID, "15", 0))
			if !assert.NoError(t, err) {
				return
			}
			if res.Referral != nil {
				mu.Lock()
				payouts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, payouts)
	assert.Equal(t, int64(2), creditsOf(t, store, alice.ID))
	assert.Equal(t, int64(2), creditsOf(t, store, bob.ID))
}

func TestSettlePurchase_ConcurrentSpendingNeverGoesNegative(t *testing.T) {
	store := newStore(t)
	svc := NewSettlementService(store, &recordingNotifier{}, DefaultRewardPolicy(), newFakeClock(), 3, &nopLogger)
	erin := seedUser(t, store, "erin@example.com", "ERI001", 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SettlePurchase(context.Background(), purchase(erin.ID, "1", 2))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, pkgerrors.ErrInsufficientCredits)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, int64(1), creditsOf(t, store, erin.ID))
}

func TestSettlePurchase_Policy(t *testing.T) {
	t.Run("Percent", func(t *testing.T) {
		store := newStore(t)
		policy := RewardPolicy{Percent: 10, RewardReferrer: true, RewardReferred: true}
		svc := NewSettlementService(store, &recordingNotifier{}, policy, newFakeClock(), 3, &nopLogger)
		alice := seedUser(t, store, "alice@example.com", "ABC123", 0)
		bob := seedUser(t, store, "bob@example.com", "BOB001", 0)
		seedReferral(t, store, alice, bob)

		res, err := svc.SettlePurchase(context.Background(), purchase(bob.ID, "55.90", 0))
		require.NoError(t, err)
		assert.Equal(t, int64(5), res.Referral.CreditsEarned)
		assert.Equal(t, int64(5), creditsOf(t, store, alice.ID))
	})

	t.Run("ReferrerOnly", func(t *testing.T) {
		store := newStore(t)
		policy := RewardPolicy{Bonus: 3, RewardReferrer: true}
		svc := NewSettlementService(store, &recordingNotifier{}, policy, newFakeClock(), 3, &nopLogger)
		alice := seedUser(t, store, "alice@example.com", "ABC123", 0)
		bob := seedUser(t, store, "bob@example.com", "BOB001", 0)
		seedReferral(t, store, alice, bob)

		res, err := svc.SettlePurchase(context.Background(), purchase(bob.ID, "10", 0))
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Credits)
		assert.Equal(t, int64(3), creditsOf(t, store, alice.ID))
		assert.Equal(t, int64(0), creditsOf(t, store, bob.ID))
	})
}

func TestSettlePurchase_RetriesTransientConflicts(t *testing.T) {
	store := newStore(t)
	user := seedUser(t, store, "frank@example.com", "FRA001", 0)

	t.Run("RecoversWithinBudget", func(t *testing.T) {
		uow := &flakyUnitOfWork{UnitOfWork: store, failures: 2}
		svc := NewSettlementService(uow, &recordingNotifier{}, DefaultRewardPolicy(), newFakeClock(), 3, &nopLogger,
			WithBackOff(zeroBackOff))

		_, err := svc.SettlePurchase(context.Background(), purchase(user.ID, "10", 0))
		require.NoError(t, err)
		assert.Equal(t, 3, uow.calls)
	})

	t.Run("GivesUp", func(t *testing.T) {
		uow := &flakyUnitOfWork{UnitOfWork: store, failures: 10}
		svc := NewSettlementService(uow, &recordingNotifier{}, DefaultRewardPolicy(), newFakeClock(), 2, &nopLogger,
			WithBackOff(zeroBackOff))

		_, err := svc.SettlePurchase(context.Background(), purchase(user.ID, "10", 0))
		assert.ErrorIs(t, err, pkgerrors.ErrTransientConflict)
		assert.Equal(t, 3, uow.calls)
	})

	t.Run("BusinessErrorsAreNotRetried", func(t *testing.T) {
		uow := &flakyUnitOfWork{UnitOfWork: store}
		svc := NewSettlementService(uow, &recordingNotifier{}, DefaultRewardPolicy(), newFakeClock(), 3, &nopLogger,
			WithBackOff(zeroBackOff))

		_, err := svc.SettlePurchase(context.Background(), purchase(user.ID, "10", 50))
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientCredits)
		assert.Equal(t, 1, uow.calls)
	})
}

func TestSettlePurchase_Idempotency(t *testing.T) {
	store := newStore(t)
	idem := newMemoryIdempotency()
	svc := NewSettlementService(store, &recordingNotifier{}, DefaultRewardPolicy(), newFakeClock(), 3, &nopLogger,
		WithIdempotency(idem))
	user := seedUser(t, store, "gina@example.com", "GIN001", 1)
	ctx := context.Background()

	req := purchase(user.ID, "10", 0)
	req.IdempotencyKey = "req-1"
	res, err := svc.SettlePurchase(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, res.Purchase.ID.String(), idem.keys[user.ID.String()+":req-1"])

	_, err = svc.SettlePurchase(ctx, req)
	assert.ErrorIs(t, err, pkgerrors.ErrRequestAlreadyProcessed)
	var dup *pkgerrors.DuplicateRequestError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, res.Purchase.ID.String(), dup.PurchaseID)
	assert.Equal(t, int64(1), creditsOf(t, store, user.ID), "replay must not settle again")

	inFlight := purchase(user.ID, "10", 0)
	inFlight.IdempotencyKey = "req-3"
	_, err = idem.Reserve(ctx, user.ID.String()+":req-3")
	require.NoError(t, err)
	_, err = svc.SettlePurchase(ctx, inFlight)
	require.ErrorAs(t, err, &dup)
	assert.Empty(t, dup.PurchaseID)

	failing := purchase(user.ID, "10", 5)
	failing.IdempotencyKey = "req-2"
	_, err = svc.SettlePurchase(ctx, failing)
	require.ErrorIs(t, err, pkgerrors.ErrInsufficientCredits)
	_, err = svc.SettlePurchase(ctx, failing)
	assert.True(t, errors.Is(err, pkgerrors.ErrInsufficientCredits), "released key must allow a retry")
}

func TestRewardPolicyAmount(t *testing.T) {
	tests := []struct {
		name   string
		policy RewardPolicy
		amount string
		want   int64
	}{
		{"FixedBonus", DefaultRewardPolicy(), "1000", 2},
		{"PercentFloorsToZero", RewardPolicy{Percent: 10}, "9.99", 0},
		{"PercentFloors", RewardPolicy{Percent: 25}, "49.99", 12},
		{"LargestStorableAmount", RewardPolicy{Percent: 100}, "9999999999.99", 9999999999},
		{"NegativeAmountPaysNothing", RewardPolicy{Percent: 10}, "-50", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.policy.Amount(decimal.RequireFromString(tt.amount))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("OverflowIsRejected", func(t *testing.T) {
		for _, amount := range []string{"1e30", "92233720368547758080"} {
			_, err := RewardPolicy{Percent: 10}.Amount(decimal.RequireFromString(amount))
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput, amount)
		}
	})
}

func TestSettlePurchase_OverflowingBonusSettlesNothing(t *testing.T) {
	store := newStore(t)
	policy := RewardPolicy{Percent: math.MaxInt64, RewardReferrer: true, RewardReferred: true}
	svc := NewSettlementService(store, &recordingNotifier{}, policy, newFakeClock(), 3, &nopLogger)
	ctx := context.Background()

	alice := seedUser(t, store, "alice@example.com", "ABC123", 0)
	bob := seedUser(t, store, "bob@example.com", "BOB001", 4)
	seedReferral(t, store, alice, bob)

	_, err := svc.SettlePurchase(ctx, purchase(bob.ID, "1000", 3))
	require.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

	assert.Equal(t, int64(0), creditsOf(t, store, alice.ID))
	assert.Equal(t, int64(4), creditsOf(t, store, bob.ID), "spent credits roll back with the transaction")
	ref, err := store.Repositories().Referrals.GetByPair(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralPending, ref.Status)
	assert.Zero(t, ref.CreditsEarned)
}
