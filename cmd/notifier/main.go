package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/honeynil/referral-credit-service/internal/config"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/kafka"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/mailer"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/notify"
	"github.com/honeynil/referral-credit-service/internal/observability"
)

// notifier drains the notification topic and delivers each message by email.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger, shutdownTracing := observability.Setup(ctx, observability.Options{
		ServiceName:  "referral-notifier",
		LogLevel:     cfg.LogLevel,
		OTLPEndpoint: cfg.OTLPEndpoint,
		MetricsAddr:  cfg.MetricsAddr,
	})
	defer shutdownTracing(context.Background())

	m, err := mailer.NewMailer(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create mailer")
	}
	delivery := notify.NewBestEffort(notify.NewMailDispatcher(m), logger, cfg.Notify.Timeout)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic, cfg.Kafka.GroupID, logger)
	defer consumer.Close()

	logger.Info().Str("topic", cfg.Kafka.NotificationTopic).Str("group", cfg.Kafka.GroupID).Msg("notifier started")
	err = consumer.Consume(ctx, func(ctx context.Context, msg kafkago.Message) error {
		n, err := notify.Decode(msg.Value)
		if err != nil {
			return fmt.Errorf("failed to decode notification: %w", err)
		}
		if err := delivery.Send(ctx, n); err != nil {
			return fmt.Errorf("failed to deliver %s to %s: %w", n.Kind, n.Recipient.UserID, err)
		}
		logger.Info().Str("kind", string(n.Kind)).Str("notification_id", n.ID.String()).Msg("notification delivered")
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("consumer stopped")
	}
	logger.Info().Msg("notifier stopped")
}
