package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/honeynil/referral-credit-service/internal/models"
)

type Kind string

const (
	KindWelcome                   Kind = "welcome"
	KindReferralWelcome           Kind = "referral_welcome"
	KindReferralSignup            Kind = "referral_signup"
	KindCreditsEarned             Kind = "credits_earned"
	KindPasswordReset             Kind = "password_reset"
	KindPasswordResetConfirmation Kind = "password_reset_confirmation"
)

type Recipient struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

type Notification struct {
	ID        uuid.UUID         `json:"id"`
	Kind      Kind              `json:"kind"`
	Recipient Recipient         `json:"recipient"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func New(kind Kind, user *models.User, data map[string]string) Notification {
	return Notification{
		ID:   uuid.New(),
		Kind: kind,
		Recipient: Recipient{
			UserID:    user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		},
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}
