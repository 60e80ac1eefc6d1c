package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/mailer"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/models"
)

type recordingProducer struct {
	topic, key string
	value      []byte
	err        error
}

func (p *recordingProducer) Send(_ context.Context, topic, key string, value []byte) error {
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

func (p *recordingProducer) Close() error { return nil }

type recordingSender struct {
	sent []mailer.Email
}

func (s *recordingSender) Send(email mailer.Email) error {
	s.sent = append(s.sent, email)
	return nil
}

type countingDispatcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *countingDispatcher) Send(context.Context, Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.err
}

type panickingDispatcher struct{}

func (panickingDispatcher) Send(context.Context, Notification) error {
	panic("template is nil")
}

func failedNotifications(t *testing.T, kind Kind) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, observability.Notifications.WithLabelValues(string(kind), "failed").Write(&m))
	return m.GetCounter().GetValue()
}

func testUser() *models.User {
	return &models.User{ID: uuid.New(), Email: "ann@example.com", FirstName: "Ann", LastName: "Lee"}
}

func TestKafkaDispatcher(t *testing.T) {
	user := testUser()
	producer := &recordingProducer{}
	d := NewKafkaDispatcher(producer, "notifications")

	n := New(KindCreditsEarned, user, map[string]string{"credits": "2"})
	require.NoError(t, d.Send(context.Background(), n))
	assert.Equal(t, "notifications", producer.topic)
	assert.Equal(t, user.ID.String(), producer.key)

	decoded, err := Decode(producer.value)
	require.NoError(t, err)
	assert.Equal(t, n.ID, decoded.ID)
	assert.Equal(t, KindCreditsEarned, decoded.Kind)
	assert.Equal(t, "2", decoded.Data["credits"])

	producer.err = errors.New("broker down")
	assert.Error(t, d.Send(context.Background(), n))

	_, err = Decode([]byte(`{"kind":""}`))
	assert.Error(t, err)
}

func TestMailDispatcher(t *testing.T) {
	sender := &recordingSender{}
	d := NewMailDispatcher(sender)

	n := New(KindPasswordReset, testUser(), map[string]string{
		"reset_url":  "http://localhost:3000/reset-password?token=abc",
		"expires_in": "1h0m0s",
	})
	require.NoError(t, d.Send(context.Background(), n))
	require.Len(t, sender.sent, 1)

	email := sender.sent[0]
	assert.Equal(t, []string{"ann@example.com"}, email.To)
	assert.Equal(t, "Reset your password", email.Subject)
	assert.Contains(t, email.Body, "token=abc")
	assert.Contains(t, email.HTMLBody, "Hi Ann")

	_, err := Render(Notification{Kind: "unknown"})
	assert.Error(t, err)
}

func TestRenderEveryKind(t *testing.T) {
	for kind := range templates {
		email, err := Render(New(kind, testUser(), map[string]string{}))
		require.NoError(t, err, kind)
		assert.NotEmpty(t, email.Subject)
	}
}

func TestBestEffort(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("DispatchSwallowsErrors", func(t *testing.T) {
		d := &countingDispatcher{err: errors.New("smtp down")}
		b := NewBestEffort(d, &logger, time.Second)
		b.Dispatch(New(KindWelcome, testUser(), nil))
		b.Dispatch(New(KindWelcome, testUser(), nil))
		b.Wait()
		assert.Equal(t, 2, d.calls)
	})

	t.Run("DispatchRecoversFromPanics", func(t *testing.T) {
		var buf bytes.Buffer
		panicLogger := zerolog.New(&buf)
		before := failedNotifications(t, KindCreditsEarned)

		b := NewBestEffort(panickingDispatcher{}, &panicLogger, time.Second)
		b.Dispatch(New(KindCreditsEarned, testUser(), nil))
		b.Wait()

		assert.Equal(t, before+1, failedNotifications(t, KindCreditsEarned))
		assert.Contains(t, buf.String(), "notification dispatcher panicked")
		assert.Contains(t, buf.String(), "template is nil")
	})

	t.Run("SendReportsErrors", func(t *testing.T) {
		d := &countingDispatcher{err: errors.New("smtp down")}
		b := NewBestEffort(d, &logger, time.Second)
		assert.Error(t, b.Send(context.Background(), New(KindPasswordReset, testUser(), nil)))
	})
}
