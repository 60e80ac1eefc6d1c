package errors

import (
	"errors"
	"strings"
)

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrEmailTaken              = errors.New("user with this email already exists")
	ErrReferralCodeTaken       = errors.New("referral code already in use")
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrInvalidReferralCode     = errors.New("invalid referral code")
	ErrReferralCodeNotFound    = errors.New("referral code not found")
	ErrSelfReferral            = errors.New("you cannot use your own referral code")
	ErrReferralNotFound        = errors.New("referral not found")
	ErrPurchaseNotFound        = errors.New("purchase not found")
	ErrTokenNotFound           = errors.New("reset token not found")
	ErrInvalidOrExpiredToken   = errors.New("invalid or expired reset token")
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrRequestAlreadyProcessed = errors.New("request already processed")
	ErrTransientConflict       = errors.New("transient conflict, retry the transaction")
	ErrCodeGenerationExhausted = errors.New("failed to generate a unique referral code")
	ErrNotificationFailed      = errors.New("failed to send notification")
	ErrNilUser                 = errors.New("user is nil")
	ErrNilReferral             = errors.New("referral is nil")
	ErrNilPurchase             = errors.New("purchase is nil")
	ErrNilToken                = errors.New("reset token is nil")
	ErrInternal                = errors.New("internal error")
	ErrInvalidInput            = errors.New("invalid input")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError matches ErrInvalidInput via errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidInput.Error()
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// DuplicateRequestError matches ErrRequestAlreadyProcessed. PurchaseID is
// empty while the first request is still being settled.
type DuplicateRequestError struct {
	PurchaseID string
}

func (e *DuplicateRequestError) Error() string {
	if e.PurchaseID == "" {
		return ErrRequestAlreadyProcessed.Error()
	}
	return ErrRequestAlreadyProcessed.Error() + ": purchase " + e.PurchaseID
}

func (e *DuplicateRequestError) Is(target error) bool {
	return target == ErrRequestAlreadyProcessed
}
