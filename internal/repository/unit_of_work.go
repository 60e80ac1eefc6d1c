package repository

import "context"

// Repositories is a set of stores bound to the same connection or transaction.
type Repositories struct {
	Users       UserRepository
	Referrals   ReferralRepository
	Purchases   PurchaseRepository
	ResetTokens ResetTokenRepository
}

type UnitOfWork interface {
	// Repositories returns stores outside of any transaction.
	Repositories() Repositories
	// WithinTx runs fn in one transaction: commit if fn returns nil, rollback otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
