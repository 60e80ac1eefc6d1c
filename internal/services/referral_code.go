package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	referralCodeLength   = 6
	referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func randomReferralCode() (string, error) {
	max := big.NewInt(int64(len(referralCodeAlphabet)))
	code := make([]byte, referralCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		code[i] = referralCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
