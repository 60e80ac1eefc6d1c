package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/honeynil/referral-credit-service/internal/api"
	"github.com/honeynil/referral-credit-service/internal/config"
	"github.com/honeynil/referral-credit-service/internal/handler"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/auth"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/kafka"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/mailer"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/notify"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/redis"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/security"
	"github.com/honeynil/referral-credit-service/internal/migrations"
	"github.com/honeynil/referral-credit-service/internal/observability"
	"github.com/honeynil/referral-credit-service/internal/repository"
	"github.com/honeynil/referral-credit-service/internal/repository/gormstore"
	core "github.com/honeynil/referral-credit-service/internal/repository/postgres"
	service "github.com/honeynil/referral-credit-service/internal/services"
	"github.com/honeynil/referral-credit-service/internal/workers"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Логи, метрики, трейсы
	logger, shutdownTracing := observability.Setup(ctx, observability.Options{
		ServiceName:  "referral-service",
		LogLevel:     cfg.LogLevel,
		OTLPEndpoint: cfg.OTLPEndpoint,
		MetricsAddr:  cfg.MetricsAddr,
	})
	defer shutdownTracing(context.Background())

	uow, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to open storage")
	}
	defer closeStore()

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()
	sessions := auth.NewSessionStore(redisClient)
	idempotency := redis.NewIdempotencyStore(redisClient, "settle")

	dispatcher, closeDispatcher, err := openDispatcher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("transport", cfg.Notify.Transport).Msg("failed to set up notifications")
	}
	defer closeDispatcher()
	notifier := notify.NewBestEffort(dispatcher, logger, cfg.Notify.Timeout)

	hasher, err := security.NewHasher(cfg.PasswordHasher)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create password hasher")
	}
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)
	clock := service.SystemClock{}

	policy := service.RewardPolicy{
		Bonus:          cfg.Referral.Bonus,
		Percent:        cfg.Referral.BonusPercent,
		RewardReferrer: cfg.Referral.RewardReferrer,
		RewardReferred: cfg.Referral.RewardReferred,
	}

	authService := service.NewAuthService(uow.Repositories().Users, hasher, jwtService, sessions, logger)
	referralService := service.NewReferralService(uow, hasher, notifier, cfg.Referral.CodeAttempts, logger)
	resetService := service.NewResetService(uow, hasher, notifier, sessions, clock, cfg.Reset.TokenTTL, cfg.FrontendURL, logger)
	settlementService := service.NewSettlementService(uow, notifier, policy, clock, cfg.SettlementMaxRetries, logger,
		service.WithIdempotency(idempotency),
	)

	h := handler.NewHandler(authService, referralService, resetService, settlementService, logger)
	router := api.SetupRouter(h, jwtService, sessions, logger)

	janitor := workers.NewJanitor(uow.Repositories(), clock, cfg.JanitorInterval, cfg.Referral.PendingTTL, logger)
	go janitor.Start(ctx)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	notifier.Wait()
	logger.Info().Msg("server stopped")
}

func openStore(cfg *config.Config, logger *zerolog.Logger) (repository.UnitOfWork, func(), error) {
	if cfg.StorageDriver == "sqlite" {
		store, err := gormstore.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	if cfg.AutoMigrate {
		if err := migrations.Up(cfg.PostgresDSN); err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("database schema is up to date")
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return core.NewUnitOfWork(db, logger), func() { _ = db.Close() }, nil
}

func openDispatcher(cfg *config.Config, logger *zerolog.Logger) (notify.Dispatcher, func(), error) {
	if cfg.Notify.Transport == "smtp" {
		m, err := mailer.NewMailer(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return nil, nil, err
		}
		return notify.NewMailDispatcher(m), func() {}, nil
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	return notify.NewKafkaDispatcher(producer, cfg.Kafka.NotificationTopic), func() { _ = producer.Close() }, nil
}
