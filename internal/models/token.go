package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetToken stores only the SHA-256 of the token handed to the user.
type PasswordResetToken struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	UserID    uuid.UUID `json:"user_id" gorm:"not null;index"`
	TokenHash string    `json:"-" gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	Used      bool      `json:"used" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *PasswordResetToken) IsValid(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

type TokenClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
}
