package models

import (
	"time"

	"github.com/google/uuid"
)

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralCompleted ReferralStatus = "completed"
	// ReferralConverted is accepted by storage but never assigned here.
	ReferralConverted ReferralStatus = "converted"
	ReferralExpired   ReferralStatus = "expired"
)

type Referral struct {
	ID            uuid.UUID      `json:"id" gorm:"primaryKey"`
	ReferrerID    uuid.UUID      `json:"referrer_id" gorm:"not null;uniqueIndex:idx_referrals_pair"`
	ReferredID    uuid.UUID      `json:"referred_id" gorm:"not null;uniqueIndex:idx_referrals_pair;index"`
	Status        ReferralStatus `json:"status" gorm:"not null;default:pending;index"`
	CreditsEarned int64          `json:"credits_earned" gorm:"not null;default:0"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
