package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "authgate/pkg/domain-errors"
)

const (
	MaxUsernameLength = 50
	MaxEmailLength    = 100
	// MaxNameLength is in characters; longer display names are cut.
	MaxNameLength = 100
)

// User is a local account. PasswordHash is nil for accounts that only ever
// signed in through an external provider.
//
// Username and email are unique among non-deleted users; the store enforces
// it, constructors only check shape.
type User struct {
	ID              int64
	UUID            uuid.UUID
	Username        string
	Email           string
	Name            string
	PasswordHash    *string
	IsVerified      bool
	ProfileImageURL string
	Lifecycle       Lifecycle
}

// NewLocalUser builds an unverified user registered with a password.
func NewLocalUser(username, email, name, passwordHash string, now time.Time) (*User, error) {
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash required for local user")
	}
	u, err := newUser(username, email, name, now)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = &passwordHash
	return u, nil
}

// NewFederatedUser builds a verified, passwordless user whose email was
// already verified by an identity provider.
func NewFederatedUser(username, email, name, profileImageURL string, now time.Time) (*User, error) {
	u, err := newUser(username, email, name, now)
	if err != nil {
		return nil, err
	}
	u.IsVerified = true
	u.ProfileImageURL = profileImageURL
	return u, nil
}

func newUser(username, email, name string, now time.Time) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "username required")
	}
	if len(username) > MaxUsernameLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("username exceeds %d characters", MaxUsernameLength))
	}
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email required")
	}
	if len(email) > MaxEmailLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("email exceeds %d characters", MaxEmailLength))
	}
	return &User{
		UUID:      uuid.New(),
		Username:  username,
		Email:     email,
		Name:      truncateRunes(strings.TrimSpace(name), MaxNameLength),
		Lifecycle: NewLifecycle(now),
	}, nil
}

// HasPassword reports whether the user can authenticate locally.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// MarkVerified returns a copy flagged verified.
func (u User) MarkVerified(now time.Time) User {
	u.IsVerified = true
	u.Lifecycle = Touch(u.Lifecycle, now)
	return u
}

// SetPassword returns a copy with a new password hash.
func (u User) SetPassword(hash string, now time.Time) User {
	u.PasswordHash = &hash
	u.Lifecycle = Touch(u.Lifecycle, now)
	return u
}

// UpdateProfile returns a copy with new display fields. Empty values keep the
// current ones.
func (u User) UpdateProfile(name, profileImageURL string, now time.Time) User {
	if name != "" {
		u.Name = name
	}
	if profileImageURL != "" {
		u.ProfileImageURL = profileImageURL
	}
	u.Lifecycle = Touch(u.Lifecycle, now)
	return u
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
