package oauth

import (
	"context"
	"log/slog"

	"authgate/internal/auth/models"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/platform/circuit"
)

// Guarded fails fast with ErrProviderUnavailable while the provider keeps
// timing out or erroring. Only availability failures trip the breaker; a
// rejected code or a bad token is the caller's problem, not the provider's.
type Guarded struct {
	Provider
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(p Provider, b *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{Provider: p, breaker: b, logger: logger}
}

func (g *Guarded) ExchangeCode(ctx context.Context, code string) (models.ProviderTokens, error) {
	if !g.breaker.Allow() {
		return models.ProviderTokens{}, ErrProviderUnavailable
	}
	tokens, err := g.Provider.ExchangeCode(ctx, code)
	g.record(ctx, err)
	return tokens, err
}

func (g *Guarded) VerifyIdentityToken(ctx context.Context, idToken string) (models.ProviderIdentity, error) {
	if !g.breaker.Allow() {
		return models.ProviderIdentity{}, ErrProviderUnavailable
	}
	identity, err := g.Provider.VerifyIdentityToken(ctx, idToken)
	g.record(ctx, err)
	return identity, err
}

func (g *Guarded) record(ctx context.Context, err error) {
	if err != nil && dErrors.HasCode(err, dErrors.CodeProviderUnavailable) {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "provider circuit opened",
				"provider", g.Name(),
				"breaker", g.breaker.Name(),
			)
		}
		return
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "provider circuit closed",
			"provider", g.Name(),
		)
	}
}
