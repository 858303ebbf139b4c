// Package oauth talks to external identity providers: it builds the consent
// redirect, exchanges authorization codes and verifies ID tokens.
package oauth

import (
	"context"

	"github.com/google/uuid"

	"authgate/internal/auth/models"
	dErrors "authgate/pkg/domain-errors"
)

//go:generate mockgen -source=provider.go -destination=mocks/mocks.go -package=mocks Provider

// Provider is one external identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (models.ProviderTokens, error)
	VerifyIdentityToken(ctx context.Context, idToken string) (models.ProviderIdentity, error)
}

var (
	// ErrProviderUnavailable is returned for timeouts, network failures and
	// 5xx answers. Callers may retry.
	ErrProviderUnavailable = dErrors.New(dErrors.CodeProviderUnavailable, "identity provider unavailable")
	// ErrCodeRejected is returned when the provider refuses the authorization code.
	ErrCodeRejected = dErrors.New(dErrors.CodeUnauthorized, "authorization code rejected")
	// ErrIncompleteResponse is returned when the token response lacks a required token.
	ErrIncompleteResponse = dErrors.New(dErrors.CodeIncompleteIdentity, "provider response is missing tokens")
	// ErrInvalidIDToken is returned when the ID token fails verification.
	ErrInvalidIDToken = dErrors.New(dErrors.CodeInvalidToken, "invalid identity token")
)

// NewState returns an unguessable value for the OAuth state parameter.
func NewState() string {
	return uuid.NewString()
}
