package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/mock/gomock"

	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/platform/audit"
)

func (s *ServiceSuite) TestRegister() {
	s.Run("creates an unverified user and mails a verification link", func() {
		var link string
		s.mailer.EXPECT().SendVerificationEmail(gomock.Any(), "jane@example.com", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, l string) error {
				link = l
				return nil
			})

		u, err := s.service.Register(s.ctx(), RegisterInput{
			Username: "jane", Email: " jane@example.com ", Password: strongPassword, Name: "Jane Doe",
		})
		s.Require().NoError(err)
		s.NotZero(u.ID)
		s.Equal("jane@example.com", u.Email)
		s.Equal("Jane Doe", u.Name)
		s.False(u.IsVerified)
		s.True(u.HasPassword())
		s.NotEqual(strongPassword, *u.PasswordHash)

		s.True(strings.HasPrefix(link, "http://app.test/api/v1/auth/verify-email?token="), link)
		s.Len(s.audit.byAction(audit.ActionUserCreated), 1)
	})

	s.Run("name defaults to username", func() {
		u := s.registerUser("noname", "noname@example.com")
		s.Equal("noname", u.Name)
	})
}

func (s *ServiceSuite) TestRegisterValidation() {
	cases := []struct {
		name string
		in   RegisterInput
		code dErrors.Code
	}{
		{"malformed email", RegisterInput{Username: "a", Email: "not-an-email", Password: strongPassword}, dErrors.CodeValidation},
		{"empty username", RegisterInput{Username: "  ", Email: "a@example.com", Password: strongPassword}, dErrors.CodeValidation},
		{"long username", RegisterInput{Username: strings.Repeat("u", 51), Email: "a@example.com", Password: strongPassword}, dErrors.CodeValidation},
		{"weak password", RegisterInput{Username: "a", Email: "a@example.com", Password: "password"}, dErrors.CodeWeakPassword},
		{"short password", RegisterInput{Username: "a", Email: "a@example.com", Password: "Aa1!"}, dErrors.CodeWeakPassword},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.Register(s.ctx(), tc.in)
			s.True(dErrors.Is(err, tc.code), "got %v", err)
		})
	}

	exists, err := s.users.ExistsByEmail(context.Background(), "a@example.com")
	s.Require().NoError(err)
	s.False(exists, "nothing is persisted for rejected input")
}

func (s *ServiceSuite) TestRegisterConflicts() {
	s.registerUser("taken", "taken@example.com")

	_, err := s.service.Register(s.ctx(), RegisterInput{Username: "other", Email: "taken@example.com", Password: strongPassword})
	s.ErrorIs(err, ErrEmailExists)

	_, err = s.service.Register(s.ctx(), RegisterInput{Username: "taken", Email: "other@example.com", Password: strongPassword})
	s.ErrorIs(err, ErrUsernameExists)
}

func (s *ServiceSuite) TestRegisterSurvivesMailFailure() {
	s.mailer.EXPECT().SendVerificationEmail(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("queue full"))

	u, err := s.service.Register(s.ctx(), RegisterInput{Username: "m", Email: "m@example.com", Password: strongPassword})
	s.Require().NoError(err)
	s.NotZero(u.ID)
}

func (s *ServiceSuite) captureVerificationToken(username, email string) string {
	var link string
	s.mailer.EXPECT().SendVerificationEmail(gomock.Any(), email, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, l string) error {
			link = l
			return nil
		})
	_, err := s.service.Register(s.ctx(), RegisterInput{Username: username, Email: email, Password: strongPassword})
	s.Require().NoError(err)
	parsed, err := url.Parse(link)
	s.Require().NoError(err)
	return parsed.Query().Get("token")
}

func (s *ServiceSuite) TestVerifyEmail() {
	tok := s.captureVerificationToken("v", "v@example.com")

	s.Require().NoError(s.service.VerifyEmail(s.ctx(), tok))
	u, err := s.users.FindByEmail(context.Background(), "v@example.com")
	s.Require().NoError(err)
	s.True(u.IsVerified)
	s.Len(s.audit.byAction(audit.ActionEmailVerified), 1)

	s.NoError(s.service.VerifyEmail(s.ctx(), tok), "verifying twice is a no-op")
	s.Len(s.audit.byAction(audit.ActionEmailVerified), 1)
}

func (s *ServiceSuite) TestVerifyEmailRejectsBadTokens() {
	tok := s.captureVerificationToken("late", "late@example.com")

	s.ErrorIs(s.service.VerifyEmail(s.ctx(), "garbage"), ErrInvalidToken)

	access, err := s.tokens.IssueAccess(1, "late@example.com", "user", 0)
	s.Require().NoError(err)
	s.ErrorIs(s.service.VerifyEmail(s.ctx(), access.Token), ErrInvalidToken, "access tokens are not verification tokens")

	s.now = s.now.Add(16 * time.Minute)
	s.ErrorIs(s.service.VerifyEmail(s.ctx(), tok), ErrInvalidToken)
}

func (s *ServiceSuite) TestVerifyEmailUnknownUser() {
	tok, err := s.tokens.IssueEmailVerification(404, "ghost@example.com", 0)
	s.Require().NoError(err)
	s.ErrorIs(s.service.VerifyEmail(s.ctx(), tok.Token), ErrUserNotFound)
}
