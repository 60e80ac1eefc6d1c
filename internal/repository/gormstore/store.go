package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
	"github.com/honeynil/referral-credit-service/internal/repository"
)

// Store is the embedded SQLite backend. It keeps a single open connection,
// which serializes transactions the way row locks do in Postgres.
type Store struct {
	db     *gorm.DB
	logger *zerolog.Logger
}

type Option func(*gorm.Config)

// WithNowFunc overrides the clock used for created_at/updated_at.
func WithNowFunc(now func() time.Time) Option {
	return func(c *gorm.Config) { c.NowFunc = now }
}

func Open(dsn string, logger *zerolog.Logger, opts ...Option) (*Store, error) {
	cfg := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.AutoMigrate(&models.User{}, &models.Referral{}, &models.Purchase{}, &models.PasswordResetToken{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	logger.Info().Str("dsn", dsn).Msg("sqlite store ready")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Repositories() repository.Repositories {
	return bind(s.db)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) (err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, "gorm-unit-of-work", "WithinTx")
	defer func() { done(err) }()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, bind(tx))
	})
}

func bind(db *gorm.DB) repository.Repositories {
	return repository.Repositories{
		Users:       &userRepository{db: db},
		Referrals:   &referralRepository{db: db},
		Purchases:   &purchaseRepository{db: db},
		ResetTokens: &resetTokenRepository{db: db},
	}
}

// SQLite reports unique violations as "UNIQUE constraint failed: table.column".
func uniqueViolation(err error) (column string, ok bool) {
	if err == nil {
		return "", false
	}
	msg := err.Error()
	const marker = "UNIQUE constraint failed: "
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", false
	}
	return msg[i+len(marker):], true
}
