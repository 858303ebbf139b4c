package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates the three token families. It travels in the "typ" claim.
type Kind string

const (
	KindAccess            Kind = "access"
	KindRefresh           Kind = "refresh"
	KindEmailVerification Kind = "email_verification"
)

func (k Kind) valid() bool {
	switch k {
	case KindAccess, KindRefresh, KindEmailVerification:
		return true
	}
	return false
}

// Claims is the sum of AccessClaims, RefreshClaims and EmailVerificationClaims.
// Switch on the concrete type (or Kind) to read kind-specific fields.
type Claims interface {
	Kind() Kind
	UserID() int64
	JTI() string
	IssuedAt() time.Time
	Expiry() time.Time
	sealed()
}

// Common holds the registered claims and discriminator every kind shares.
type Common struct {
	Type Kind `json:"typ"`
	jwt.RegisteredClaims

	userID int64
}

func (c *Common) Kind() Kind { return c.Type }

func (c *Common) UserID() int64 { return c.userID }

func (c *Common) JTI() string { return c.ID }

func (c *Common) Expiry() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

func (c *Common) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

func (c *Common) sealed() {}

// Lifetime is exp - iat.
func (c *Common) Lifetime() time.Duration {
	return c.Expiry().Sub(c.IssuedAt())
}

// AccessClaims authorizes API calls.
type AccessClaims struct {
	Common
	Email string `json:"email"`
	Role  string `json:"role"`
}

// RefreshClaims is exchanged for a new token pair.
type RefreshClaims struct {
	Common
}

// EmailVerificationClaims proves control of Email.
type EmailVerificationClaims struct {
	Common
	Email string `json:"email"`
}

// envelope is decoded first so the discriminator is known before the
// kind-specific payload is interpreted.
type envelope struct {
	Common
}
