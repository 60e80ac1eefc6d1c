package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/repository"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type UnitOfWork struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewUnitOfWork(db *sql.DB, logger *zerolog.Logger) *UnitOfWork {
	return &UnitOfWork{db: db, logger: logger}
}

func (u *UnitOfWork) Repositories() repository.Repositories {
	return u.bind(u.db)
}

func (u *UnitOfWork) bind(db DBTX) repository.Repositories {
	return repository.Repositories{
		Users:       NewPostgresUserRepository(db, u.logger),
		Referrals:   NewPostgresReferralRepository(db, u.logger),
		Purchases:   NewPostgresPurchaseRepository(db, u.logger),
		ResetTokens: NewPostgresResetTokenRepository(db, u.logger),
	}
}

func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, "unit-of-work", "WithinTx")
	defer func() { done(err) }()

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		u.logger.Error().Err(err).Str("method", "WithinTx").Msg("failed to begin transaction")
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, u.bind(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			u.logger.Error().Err(rbErr).Str("method", "WithinTx").Msg("rollback failed")
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		u.logger.Error().Err(err).Str("method", "WithinTx").Msg("failed to commit transaction")
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError turns retryable Postgres failures into ErrTransientConflict.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", pkgerrors.ErrTransientConflict, pqErr.Message)
		}
	}
	return err
}

func uniqueViolation(err error) (constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
