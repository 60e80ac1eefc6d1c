package kafka

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader *kafka.Reader
	logger *zerolog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, logger *zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		logger: logger,
	}
}

// Consume reads until ctx is cancelled. Handler failures are logged and the
// message is skipped.
func (c *Consumer) Consume(ctx context.Context, handle MessageHandler) error {
	topic := c.reader.Config().Topic
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error().Err(err).Str("topic", topic).Msg("failed to read Kafka message")
			continue
		}

		c.logger.Debug().Str("topic", msg.Topic).Str("key", string(msg.Key)).Int64("offset", msg.Offset).
			Msg("Kafka message received")

		if err := handle(ctx, msg); err != nil {
			c.logger.Error().Err(err).Str("topic", msg.Topic).Str("key", string(msg.Key)).
				Msg("failed to handle Kafka message")
			// TODO: Send to dead-letter queue
			continue
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
