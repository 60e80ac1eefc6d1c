package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/notify"
	"github.com/honeynil/referral-credit-service/internal/models"
	"github.com/honeynil/referral-credit-service/internal/repository/gormstore"
)

var nopLogger = zerolog.Nop()

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Microsecond)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []notify.Notification
	sendErr error
}

func (n *recordingNotifier) Send(_ context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.sendErr
}

func (n *recordingNotifier) Dispatch(note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) byKind(kind notify.Kind) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, note := range n.sent {
		if note.Kind == kind {
			out = append(out, note)
		}
	}
	return out
}

type fakeSessions struct {
	mu      sync.Mutex
	saved   map[uuid.UUID]string
	revoked []uuid.UUID
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: map[uuid.UUID]string{}}
}

func (s *fakeSessions) Save(_ context.Context, userID uuid.UUID, token string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[userID] = token
	return nil
}

func (s *fakeSessions) Revoke(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, userID)
	s.revoked = append(s.revoked, userID)
	return nil
}

func newStore(t *testing.T) *gormstore.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := gormstore.Open(dsn, &nopLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedUser(t *testing.T, store *gormstore.Store, email, code string, credits int64) *models.User {
	t.Helper()
	ctx := context.Background()
	user := &models.User{
		Email:        email,
		PasswordHash: "hash",
		FirstName:    "Test",
		LastName:     "User",
		ReferralCode: code,
	}
	require.NoError(t, store.Repositories().Users.Create(ctx, user))
	if credits > 0 {
		balance, err := store.Repositories().Users.ChangeCredits(ctx, user.ID, credits)
		require.NoError(t, err)
		user.Credits = balance
	}
	return user
}

func seedReferral(t *testing.T, store *gormstore.Store, referrer, referred *models.User) *models.Referral {
	t.Helper()
	ref := &models.Referral{ReferrerID: referrer.ID, ReferredID: referred.ID}
	created, err := store.Repositories().Referrals.Create(context.Background(), ref)
	require.NoError(t, err)
	require.True(t, created)
	return ref
}

func creditsOf(t *testing.T, store *gormstore.Store, id uuid.UUID) int64 {
	t.Helper()
	user, err := store.Repositories().Users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return user.Credits
}

func codeSequence(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}
