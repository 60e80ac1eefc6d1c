package kafka

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type KafkaProducer interface {
	Send(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
	logger *zerolog.Logger
}

// NewProducer writes synchronously so callers learn about delivery failures.
func NewProducer(brokers []string, logger *zerolog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer, logger: logger}
}

func (p *Producer) Send(ctx context.Context, topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Str("key", key).Msg("failed to send Kafka message")
		return err
	}
	p.logger.Debug().Str("topic", topic).Str("key", key).Msg("Kafka message sent")
	return nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("failed to close Kafka writer")
		return err
	}
	p.logger.Info().Msg("Kafka writer closed")
	return nil
}
