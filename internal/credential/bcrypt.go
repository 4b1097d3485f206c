// Package credential hashes passwords and invite tokens with bcrypt.
package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLen = 8
	// MaxSecretLen is the bcrypt input limit in bytes.
	MaxSecretLen = 72
)

var ErrInvalidPassword = errors.New("password must be between 8 and 72 bytes")

// Hasher hashes secrets and verifies them against stored hashes.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

type Bcrypt struct {
	Cost int
}

func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{Cost: cost}, nil
}

var _ Hasher = (*Bcrypt)(nil)

func (b *Bcrypt) Hash(secret string) (string, error) {
	if len(secret) > MaxSecretLen {
		return "", fmt.Errorf("secret longer than %d bytes", MaxSecretLen)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), b.Cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b *Bcrypt) Verify(secret, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// ValidatePassword enforces the length policy for new passwords.
func ValidatePassword(pw string) error {
	if len(pw) < MinPasswordLen || len(pw) > MaxSecretLen {
		return ErrInvalidPassword
	}
	return nil
}
