// Package password hashes and verifies local credentials with bcrypt.
package password

import (
	"errors"
	"fmt"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	dErrors "authgate/pkg/domain-errors"
)

const MinLength = 8

// Hasher hashes passwords at a fixed bcrypt cost.
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(h *Hasher) {
		h.cost = cost
	}
}

// NewHasher returns a Hasher at bcrypt.DefaultCost unless overridden.
func NewHasher(opts ...Option) *Hasher {
	h := &Hasher{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash returns the bcrypt hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", dErrors.New(dErrors.CodeWeakPassword, "password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeWeakPassword, "password is too long")
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches storedHash. It fails closed: a
// malformed or empty hash, or any bcrypt error, yields false.
func (h *Hasher) Verify(plaintext, storedHash string) bool {
	return Verify(plaintext, storedHash)
}

// Verify reports whether plaintext matches storedHash. Never panics.
func Verify(plaintext, storedHash string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}

// Burn spends one bcrypt comparison at the hasher's cost against a throwaway
// hash, so a lookup miss takes as long as a wrong password.
func (h *Hasher) Burn(plaintext string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("authgate-dummy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}

// ValidateStrength requires at least MinLength characters with an upper-case
// letter, a lower-case letter, a digit and a non-alphanumeric character.
func ValidateStrength(plaintext string) error {
	var upper, lower, digit, special bool
	n := 0
	for _, r := range plaintext {
		n++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			special = true
		}
	}
	if n < MinLength || !upper || !lower || !digit || !special {
		return dErrors.New(dErrors.CodeWeakPassword,
			fmt.Sprintf("password must be at least %d characters and include upper-case, lower-case, digit and symbol", MinLength))
	}
	return nil
}
