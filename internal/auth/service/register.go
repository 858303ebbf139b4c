package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"authgate/internal/auth/models"
	"authgate/internal/auth/password"
	"authgate/internal/auth/store/user"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/email"
	"authgate/pkg/platform/audit"
	"authgate/pkg/platform/sentinel"
	"authgate/pkg/requestcontext"
)

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Name     string
}

// Register creates an unverified local account and mails a verification
// link. Mail failures are logged and never fail the registration.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	addr := email.Normalize(in.Email)

	if !email.IsValid(addr) || len(addr) > models.MaxEmailLength {
		return nil, dErrors.New(dErrors.CodeValidation, "email address is invalid")
	}
	if username == "" || len(username) > models.MaxUsernameLength {
		return nil, dErrors.New(dErrors.CodeValidation, "username must be between 1 and 50 characters")
	}
	if err := password.ValidateStrength(in.Password); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmail(ctx, addr)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check email")
	}
	if exists {
		return nil, ErrEmailExists
	}
	exists, err = s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check username")
	}
	if exists {
		return nil, ErrUsernameExists
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = username
	}
	candidate, err := models.NewLocalUser(username, addr, name, hash, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}

	created, err := s.users.Create(ctx, candidate)
	if err != nil {
		switch {
		case sentinel.IsUniqueViolation(err, user.FieldEmail):
			return nil, ErrEmailExists
		case sentinel.IsUniqueViolation(err, user.FieldUsername):
			return nil, ErrUsernameExists
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}

	s.metrics.IncrementRegistrations()
	s.logAudit(ctx, audit.ActionUserCreated,
		"user_id", created.ID,
		"subject", created.Email,
	)
	s.sendVerification(ctx, created)
	return created, nil
}

func (s *Service) sendVerification(ctx context.Context, u *models.User) {
	issued, err := s.tokens.IssueEmailVerification(u.ID, u.Email, 0)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue email verification token",
			"error", err,
			"user_id", u.ID,
		)
		return
	}
	s.metrics.IncrementTokensIssued("email_verification")

	link := s.appURL + verifyEmailPath + "?token=" + url.QueryEscape(issued.Token)
	if err := s.mailer.SendVerificationEmail(ctx, u.Email, link); err != nil {
		s.logger.WarnContext(ctx, "failed to queue verification email",
			"error", err,
			"user_id", u.ID,
		)
	}
}

// VerifyEmail marks the account named by a verification token as verified.
// Verifying twice succeeds.
func (s *Service) VerifyEmail(ctx context.Context, tokenString string) error {
	claims, err := s.tokens.VerifyEmailVerification(tokenString)
	if err != nil {
		s.metrics.IncrementTokenFailures("email_verification")
		return ErrInvalidToken
	}

	u, err := s.users.FindByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return ErrUserNotFound
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if u.ID != claims.UserID() {
		// the address now belongs to a different account
		return ErrUserNotFound
	}
	if u.IsVerified {
		return nil
	}

	verified := u.MarkVerified(requestcontext.Now(ctx))
	if _, err := s.users.Update(ctx, &verified); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return ErrUserNotFound
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify user")
	}
	s.logAudit(ctx, audit.ActionEmailVerified,
		"user_id", u.ID,
		"subject", u.Email,
	)
	return nil
}
