package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"authgate/internal/auth/models"
	"authgate/internal/auth/store/social"
	"authgate/internal/auth/store/user"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/email"
	"authgate/pkg/platform/audit"
	"authgate/pkg/platform/sentinel"
	"authgate/pkg/requestcontext"
)

// Outcome says how a provider identity was matched to a local account.
type Outcome string

const (
	// OutcomeReused means the identity was already linked.
	OutcomeReused Outcome = "reused"
	// OutcomeLinked means an existing account with the same email was linked.
	OutcomeLinked Outcome = "linked"
	// OutcomeCreated means a new passwordless account was created and linked.
	OutcomeCreated Outcome = "created"
)

type CallbackResult struct {
	User    *models.User
	Tokens  models.TokenPair
	Outcome Outcome
}

const (
	// usernameSuffixRoom keeps the base short enough for "_<n>" suffixes.
	usernameSuffixRoom   = 6
	maxUsernameAttempts  = 100
	maxReconcileAttempts = 3
)

// OAuthLoginURL returns the provider consent URL carrying state.
func (s *Service) OAuthLoginURL(state string) (string, error) {
	if s.provider == nil {
		return "", ErrProviderNotEnabled
	}
	return s.provider.AuthCodeURL(state), nil
}

// HandleOAuthCallback exchanges an authorization code and signs the caller in
// as the local account that owns the provider identity, linking or creating
// one when needed. Repeating a callback for the same identity never creates a
// second user or link.
func (s *Service) HandleOAuthCallback(ctx context.Context, code string) (*CallbackResult, error) {
	if s.provider == nil {
		return nil, ErrProviderNotEnabled
	}
	if code == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "authorization code is required")
	}
	providerName := s.provider.Name()

	tokens, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	identity, err := s.provider.VerifyIdentityToken(ctx, tokens.IDToken)
	if err != nil {
		return nil, err
	}
	identity.Email = email.Normalize(identity.Email)
	if !identity.Complete() {
		s.logger.WarnContext(ctx, "incomplete provider identity",
			"provider", providerName,
			"email_verified", identity.EmailVerified,
			"has_subject", identity.Subject != "",
			"has_email", identity.Email != "",
			"email_length", len(identity.Email),
			"has_name", identity.Name != "",
		)
		return nil, ErrIncompleteIdentity
	}

	ctx, span := tracer.Start(ctx, "auth.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("oauth.provider", providerName))

	u, outcome, err := s.reconcile(ctx, providerName, identity, tokens)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("oauth.outcome", string(outcome)))

	pair, err := s.issuePair(u)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementOAuthCallbacks(providerName, string(outcome))
	s.logAudit(ctx, outcomeAction(outcome),
		"user_id", u.ID,
		"subject", identity.Email,
		"reason", providerName,
	)
	return &CallbackResult{User: u, Tokens: pair, Outcome: outcome}, nil
}

// reconcile resolves identity to a local user. Every write is a single atomic
// insert; a unique violation means a concurrent callback won the race and the
// loop starts over from the lookups.
func (s *Service) reconcile(ctx context.Context, providerName string, identity models.ProviderIdentity, tokens models.ProviderTokens) (*models.User, Outcome, error) {
	now := requestcontext.Now(ctx)
	for range maxReconcileAttempts {
		link, err := s.links.FindByProviderAndSubject(ctx, providerName, identity.Subject)
		switch {
		case err == nil:
			u, err := s.linkedUser(ctx, link)
			if err != nil {
				return nil, "", err
			}
			if _, err := s.links.UpdateTokens(ctx, link.ID, tokens, now); err != nil {
				return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to update provider tokens")
			}
			return u, OutcomeReused, nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up provider link")
		}

		outcome := OutcomeLinked
		u, err := s.users.FindByEmail(ctx, identity.Email)
		if errors.Is(err, sentinel.ErrNotFound) {
			u, err = s.createFederatedUser(ctx, identity)
			outcome = OutcomeCreated
			if sentinel.IsUniqueViolation(err, user.FieldEmail) {
				continue
			}
		}
		if err != nil {
			if errors.Is(err, ErrUsernameUnavailable) {
				return nil, "", err
			}
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve local user")
		}

		candidate, err := models.NewSocialAccount(u.ID, providerName, identity, tokens, now)
		if err != nil {
			return nil, "", err
		}
		if _, err := s.links.Create(ctx, candidate); err != nil {
			if sentinel.IsUniqueViolation(err, social.FieldProviderSubject) {
				continue
			}
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create provider link")
		}
		return u, outcome, nil
	}
	return nil, "", dErrors.New(dErrors.CodeConflict, "concurrent sign-in did not settle, retry")
}

// linkedUser loads the owner of link. A link whose user is gone is an
// integrity fault: it is reported and left as is.
func (s *Service) linkedUser(ctx context.Context, link *models.SocialAccount) (*models.User, error) {
	u, err := s.users.FindByID(ctx, link.UserID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load linked user")
	}
	s.metrics.IncrementOrphanedLinks()
	s.logger.ErrorContext(ctx, "provider link references missing user",
		"severity", "critical",
		"link_id", link.ID,
		"user_id", link.UserID,
		"provider", link.Provider,
	)
	s.logAudit(ctx, audit.ActionOrphanedLinkDetected,
		"user_id", link.UserID,
		"subject", link.ProviderUserID,
		"reason", link.Provider,
	)
	return nil, ErrOrphanedLink
}

// createFederatedUser inserts a verified passwordless user, trying base,
// base_1, base_2, ... until a username is free. Email violations are
// returned to the caller.
func (s *Service) createFederatedUser(ctx context.Context, identity models.ProviderIdentity) (*models.User, error) {
	base := email.UsernameBase(identity.Email, models.MaxUsernameLength-usernameSuffixRoom)
	now := requestcontext.Now(ctx)
	for attempt := range maxUsernameAttempts {
		username := base
		if attempt > 0 {
			username = fmt.Sprintf("%s_%d", base, attempt)
		}
		candidate, err := models.NewFederatedUser(username, identity.Email, identity.Name, identity.Picture, now)
		if err != nil {
			return nil, err
		}
		created, err := s.users.Create(ctx, candidate)
		if err == nil {
			return created, nil
		}
		if !sentinel.IsUniqueViolation(err, user.FieldUsername) {
			return nil, err
		}
	}
	return nil, ErrUsernameUnavailable
}

// UnlinkProvider removes the caller's link to provider. A passwordless user
// may not remove their last link.
func (s *Service) UnlinkProvider(ctx context.Context, userID int64, provider string) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.users.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return ErrUserNotFound
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
		}
		links, err := s.links.FindByUserID(ctx, userID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list provider links")
		}
		found := false
		for _, l := range links {
			if l.Provider == provider {
				found = true
				break
			}
		}
		if !found {
			return ErrLinkNotFound
		}
		if !u.HasPassword() && len(links) == 1 {
			return ErrLastSignInMethod
		}
		if err := s.links.DeleteByUserAndProvider(ctx, userID, provider); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return ErrLinkNotFound
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete provider link")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, audit.ActionOAuthUnlinked,
		"user_id", userID,
		"reason", provider,
	)
	return nil
}

func outcomeAction(o Outcome) audit.Action {
	switch o {
	case OutcomeCreated:
		return audit.ActionOAuthUserCreated
	case OutcomeLinked:
		return audit.ActionOAuthLinked
	default:
		return audit.ActionOAuthReused
	}
}
