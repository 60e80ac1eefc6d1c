package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matthewhartstonge/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Hasher hashes new passwords with the configured algorithm and verifies
// hashes produced by either of them, so switching algorithms keeps old
// credentials usable.
type Hasher struct {
	algorithm  string
	bcryptCost int
	argon      argon2.Config
}

func NewHasher(algorithm string) (*Hasher, error) {
	switch algorithm {
	case AlgorithmBcrypt, AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("unsupported password hasher %q", algorithm)
	}
	return &Hasher{
		algorithm:  algorithm,
		bcryptCost: bcrypt.DefaultCost,
		argon:      argon2.DefaultConfig(),
	}, nil
}

// NewFastHasher uses the cheapest parameters; for tests only.
func NewFastHasher() *Hasher {
	argon := argon2.DefaultConfig()
	argon.TimeCost = 1
	argon.MemoryCost = 8 * 1024
	return &Hasher{algorithm: AlgorithmBcrypt, bcryptCost: bcrypt.MinCost, argon: argon}
}

func (h *Hasher) Hash(plain string) (string, error) {
	if h.algorithm == AlgorithmArgon2id {
		encoded, err := h.argon.HashEncoded([]byte(plain))
		if err != nil {
			return "", fmt.Errorf("failed to hash password: %w", err)
		}
		return string(encoded), nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (h *Hasher) Verify(plain, hash string) (bool, error) {
	if strings.HasPrefix(hash, "$argon2") {
		ok, err := argon2.VerifyEncoded([]byte(plain), []byte(hash))
		if err != nil {
			return false, fmt.Errorf("failed to verify password: %w", err)
		}
		return ok, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to verify password: %w", err)
	}
	return true, nil
}
