package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/kafka"
)

// KafkaDispatcher publishes notifications for the notifier worker.
type KafkaDispatcher struct {
	producer kafka.KafkaProducer
	topic    string
}

func NewKafkaDispatcher(producer kafka.KafkaProducer, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, topic: topic}
}

func (d *KafkaDispatcher) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := d.producer.Send(ctx, d.topic, n.Recipient.UserID.String(), payload); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func Decode(payload []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Notification{}, fmt.Errorf("failed to decode notification: %w", err)
	}
	if n.Kind == "" || n.Recipient.Email == "" {
		return Notification{}, fmt.Errorf("notification %s has no kind or recipient", n.ID)
	}
	return n, nil
}
