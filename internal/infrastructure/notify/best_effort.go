package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
)

// BestEffort sends notifications in the background. Failures are logged and
// never reach the caller.
type BestEffort struct {
	dispatcher Dispatcher
	logger     *zerolog.Logger
	timeout    time.Duration
	wg         sync.WaitGroup
}

func NewBestEffort(dispatcher Dispatcher, logger *zerolog.Logger, timeout time.Duration) *BestEffort {
	return &BestEffort{dispatcher: dispatcher, logger: logger, timeout: timeout}
}

// Send dispatches synchronously and reports the error, for callers that must know.
func (b *BestEffort) Send(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	err := b.dispatcher.Send(ctx, n)
	status := "sent"
	if err != nil {
		status = "failed"
	}
	observability.Notifications.WithLabelValues(string(n.Kind), status).Inc()
	return err
}

func (b *BestEffort) Dispatch(n Notification) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				observability.Notifications.WithLabelValues(string(n.Kind), "failed").Inc()
				b.logger.Error().
					Interface("panic", r).
					Str("kind", string(n.Kind)).
					Str("user_id", n.Recipient.UserID.String()).
					Msg("notification dispatcher panicked")
			}
		}()
		if err := b.Send(context.Background(), n); err != nil {
			b.logger.Error().Err(err).
				Str("kind", string(n.Kind)).
				Str("user_id", n.Recipient.UserID.String()).
				Msg("failed to send notification")
			return
		}
		b.logger.Info().Str("kind", string(n.Kind)).Str("user_id", n.Recipient.UserID.String()).Msg("notification sent")
	}()
}

// Wait blocks until every dispatched notification has finished.
func (b *BestEffort) Wait() {
	b.wg.Wait()
}
