package models

import (
	"time"

	dErrors "authgate/pkg/domain-errors"
)

// SocialAccount links one User to one identity at one external provider.
// (Provider, ProviderUserID) is globally unique; links go away with their user.
type SocialAccount struct {
	ID                      int64
	UserID                  int64
	Provider                string
	ProviderUserID          string
	ProviderEmail           string
	AccessToken             string
	RefreshToken            string
	TokenExpiry             time.Time
	ProviderProfileImageURL string
	Lifecycle               Lifecycle
}

// NewSocialAccount builds a link for userID from a verified provider identity.
func NewSocialAccount(userID int64, provider string, identity ProviderIdentity, tokens ProviderTokens, now time.Time) (*SocialAccount, error) {
	if userID == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "link requires an owning user")
	}
	if provider == "" || identity.Subject == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "link requires provider and subject")
	}
	return &SocialAccount{
		UserID:                  userID,
		Provider:                provider,
		ProviderUserID:          identity.Subject,
		ProviderEmail:           identity.Email,
		AccessToken:             tokens.AccessToken,
		RefreshToken:            tokens.RefreshToken,
		TokenExpiry:             tokens.ExpiryFrom(now),
		ProviderProfileImageURL: identity.Picture,
		Lifecycle:               NewLifecycle(now),
	}, nil
}

// ProviderTokens is what a provider hands back for an authorization code.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    time.Duration
}

// ExpiryFrom converts the relative lifetime into an absolute instant.
func (t ProviderTokens) ExpiryFrom(now time.Time) time.Time {
	return now.Add(t.ExpiresIn)
}

// ProviderIdentity is the verified claim set decoded from a provider ID token.
type ProviderIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// MaxProviderSubjectLength bounds the provider-assigned subject id.
const MaxProviderSubjectLength = 255

// Complete reports whether the identity carries everything needed to
// reconcile it with a local account, within the lengths a user and link can
// store.
func (p ProviderIdentity) Complete() bool {
	return p.EmailVerified &&
		p.Subject != "" && len(p.Subject) <= MaxProviderSubjectLength &&
		p.Email != "" && len(p.Email) <= MaxEmailLength &&
		p.Name != ""
}

// TokenPair is a freshly issued session.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
}
