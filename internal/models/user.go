package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID            uuid.UUID  `json:"id" gorm:"primaryKey"`
	Email         string     `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash  string     `json:"-" gorm:"not null"`
	FirstName     string     `json:"first_name" gorm:"not null"`
	LastName      string     `json:"last_name" gorm:"not null"`
	ReferralCode  string     `json:"referral_code" gorm:"uniqueIndex;not null"`
	ReferredBy    *uuid.UUID `json:"referred_by,omitempty" gorm:"index"`
	Credits       int64      `json:"credits" gorm:"not null;default:0;check:credits >= 0"`
	EmailVerified bool       `json:"email_verified" gorm:"not null;default:false"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}
