package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

type StatusType string

const (
	StatusPending   StatusType = "pending"
	StatusCompleted StatusType = "completed"
	StatusFailed    StatusType = "failed"
)

type Purchase struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey"`
	UserID      uuid.UUID       `json:"user_id" gorm:"not null;index"`
	Description string          `json:"description" gorm:"not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"not null"`
	Currency    Currency        `json:"currency" gorm:"not null;default:USD"`
	CreditsUsed int64           `json:"credits_used" gorm:"not null;default:0"`
	Status      StatusType      `json:"status" gorm:"not null;default:pending"`
	// Set once, when the purchase converted a pending referral.
	ReferralReferrerID   *uuid.UUID `json:"referral_referrer_id,omitempty"`
	ReferralCreditAmount *int64     `json:"referral_credit_amount,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// ReferralCredit is the snapshot of the payout a purchase triggered.
type ReferralCredit struct {
	ReferrerID uuid.UUID `json:"referrer_id"`
	Amount     int64     `json:"amount"`
}

func (p *Purchase) ReferralCredit() *ReferralCredit {
	if p.ReferralReferrerID == nil || p.ReferralCreditAmount == nil {
		return nil
	}
	return &ReferralCredit{ReferrerID: *p.ReferralReferrerID, Amount: *p.ReferralCreditAmount}
}

func (p *Purchase) SetReferralCredit(c ReferralCredit) {
	referrer, amount := c.ReferrerID, c.Amount
	p.ReferralReferrerID = &referrer
	p.ReferralCreditAmount = &amount
}
