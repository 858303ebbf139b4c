package service

import (
	"context"
	"errors"

	"authgate/internal/auth/device"
	"authgate/internal/auth/models"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/email"
	"authgate/pkg/platform/audit"
	"authgate/pkg/platform/sentinel"
	"authgate/pkg/requestcontext"
)

// Login checks a password and issues a token pair. Unknown email, missing
// password and wrong password all return ErrInvalidCredentials, and the
// unknown-email path still pays for one bcrypt comparison.
func (s *Service) Login(ctx context.Context, addr, plaintext string) (models.TokenPair, error) {
	addr = email.Normalize(addr)
	deviceLabel := device.Label(requestcontext.UserAgent(ctx))

	u, err := s.users.FindByEmail(ctx, addr)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return models.TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	switch {
	case u == nil:
		s.hasher.Burn(plaintext)
		return models.TokenPair{}, s.loginFailed(ctx, 0, addr, "unknown_email", deviceLabel)
	case !u.HasPassword():
		s.hasher.Burn(plaintext)
		return models.TokenPair{}, s.loginFailed(ctx, u.ID, addr, "no_password", deviceLabel)
	case !s.hasher.Verify(plaintext, *u.PasswordHash):
		return models.TokenPair{}, s.loginFailed(ctx, u.ID, addr, "wrong_password", deviceLabel)
	}

	pair, err := s.issuePair(u)
	if err != nil {
		return models.TokenPair{}, err
	}
	s.metrics.IncrementLogins("success")
	s.logAudit(ctx, audit.ActionLoginSucceeded,
		"user_id", u.ID,
		"subject", u.Email,
		"device", deviceLabel,
	)
	return pair, nil
}

func (s *Service) loginFailed(ctx context.Context, userID int64, addr, reason, deviceLabel string) error {
	s.metrics.IncrementLogins("invalid_credentials")
	s.logAudit(ctx, audit.ActionLoginFailed,
		"user_id", userID,
		"subject", addr,
		"reason", reason,
		"device", deviceLabel,
	)
	return ErrInvalidCredentials
}

// Refresh rotates a refresh token: the presented token is claimed on the
// denylist for its remaining lifetime and a new pair is issued. Only the
// first redemption of a token wins the claim.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.metrics.IncrementTokenFailures("refresh_invalid")
		return models.TokenPair{}, ErrInvalidToken
	}

	claimed, err := s.denylist.Claim(ctx, claims.JTI(), remaining(ctx, claims.Expiry()))
	if err != nil {
		return models.TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check token revocation")
	}
	if !claimed {
		s.metrics.IncrementTokenFailures("refresh_revoked")
		s.logger.WarnContext(ctx, "revoked refresh token presented",
			"user_id", claims.UserID(),
			"jti", claims.JTI(),
		)
		return models.TokenPair{}, ErrInvalidToken
	}

	u, err := s.users.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.TokenPair{}, ErrInvalidToken
		}
		return models.TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	pair, err := s.issuePair(u)
	if err != nil {
		return models.TokenPair{}, err
	}
	s.logAudit(ctx, audit.ActionTokenRefreshed,
		"user_id", u.ID,
	)
	return pair, nil
}

// Logout denylists the refresh token. A token that does not verify is
// already unusable, so it counts as logged out.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil
	}
	if err := s.denylist.RevokeToken(ctx, claims.JTI(), remaining(ctx, claims.Expiry())); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke refresh token")
	}
	s.logAudit(ctx, audit.ActionLogout,
		"user_id", claims.UserID(),
	)
	return nil
}

// CurrentUser loads the account behind an access token.
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return u, nil
}
