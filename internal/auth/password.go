package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinBcryptCost is the lowest work factor accepted for stored hashes.
	MinBcryptCost = 10

	minPasswordLen = 6
	maxPasswordLen = 1024
)

// Hasher hashes pepper ∥ password with bcrypt. The peppered input is first reduced to a
// base64 SHA-256 digest so neither the pepper nor the password runs into bcrypt's 72-byte cap.
type Hasher struct {
	Pepper string
	Cost   int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher validates cost and returns a Hasher.
func NewHasher(pepper string, cost int) (*Hasher, error) {
	if cost < MinBcryptCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d below minimum %d", cost, MinBcryptCost)
	}
	if cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d above maximum %d", cost, bcrypt.MaxCost)
	}
	return &Hasher{Pepper: pepper, Cost: cost}, nil
}

// CheckPassword enforces length limits without hashing.
func (h *Hasher) CheckPassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return fmt.Errorf("%w: password must be at most %d characters", ErrInvalidInput, maxPasswordLen)
	}
	return nil
}

// Hash returns the bcrypt hash of the peppered password.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.CheckPassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword(h.peppered(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether password matches hash. An empty hash burns the same work
// as a real comparison and never matches.
func (h *Hasher) Compare(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummyHash(), h.peppered(password))
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), h.peppered(password))
	return err == nil
}

func (h *Hasher) peppered(password string) []byte {
	sum := sha256.Sum256([]byte(h.Pepper + password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

func (h *Hasher) dummyHash() []byte {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("opsconsole-dummy-password"), h.Cost)
		if err != nil {
			hash, _ = bcrypt.GenerateFromPassword([]byte("opsconsole-dummy-password"), bcrypt.MinCost)
		}
		h.dummy = hash
	})
	return h.dummy
}
