package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"authgate/internal/auth/models"
	"authgate/pkg/platform/audit"
)

func (s *ServiceSuite) TestLogin() {
	u := s.registerUser("lee", "lee@example.com")

	s.Run("unverified users may sign in", func() {
		pair, err := s.service.Login(s.ctx(), " lee@example.com", strongPassword)
		s.Require().NoError(err)
		s.Equal(30*time.Minute, pair.AccessExpiresIn)
		s.Equal(7*24*time.Hour, pair.RefreshExpiresIn)

		claims, err := s.tokens.VerifyAccess(pair.AccessToken)
		s.Require().NoError(err)
		s.Equal(u.ID, claims.UserID())
		s.Equal("lee@example.com", claims.Email)

		events := s.audit.byAction(audit.ActionLoginSucceeded)
		s.Require().Len(events, 1)
		s.Contains(events[0].Device, "Firefox")
		s.Equal("203.0.113.9", events[0].IP)
	})

	s.Run("unknown email and wrong password are indistinguishable", func() {
		_, unknownErr := s.service.Login(s.ctx(), "nobody@example.com", strongPassword)
		_, wrongErr := s.service.Login(s.ctx(), "lee@example.com", "Wr0ng$pass")
		s.ErrorIs(unknownErr, ErrInvalidCredentials)
		s.ErrorIs(wrongErr, ErrInvalidCredentials)
		s.Equal(unknownErr.Error(), wrongErr.Error())

		reasons := map[string]bool{}
		for _, e := range s.audit.byAction(audit.ActionLoginFailed) {
			reasons[e.Reason] = true
		}
		s.True(reasons["unknown_email"])
		s.True(reasons["wrong_password"])
	})
}

func (s *ServiceSuite) TestLoginFederatedUserHasNoPassword() {
	fed, err := models.NewFederatedUser("fed", "fed@example.com", "Fed", "", s.now)
	s.Require().NoError(err)
	_, err = s.users.Create(s.ctx(), fed)
	s.Require().NoError(err)

	_, err = s.service.Login(s.ctx(), "fed@example.com", strongPassword)
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) login() models.TokenPair {
	s.registerUser("rot", "rot@example.com")
	pair, err := s.service.Login(s.ctx(), "rot@example.com", strongPassword)
	s.Require().NoError(err)
	return pair
}

func (s *ServiceSuite) TestRefreshRotates() {
	first := s.login()

	s.now = s.now.Add(time.Minute)
	second, err := s.service.Refresh(s.ctx(), first.RefreshToken)
	s.Require().NoError(err)
	s.NotEqual(first.RefreshToken, second.RefreshToken)

	_, err = s.service.Refresh(s.ctx(), first.RefreshToken)
	s.ErrorIs(err, ErrInvalidToken, "a rotated refresh token is single use")

	_, err = s.service.Refresh(s.ctx(), second.RefreshToken)
	s.NoError(err)
}

func (s *ServiceSuite) TestRefreshConcurrentRedemptionHasOneWinner() {
	pair := s.login()
	s.now = s.now.Add(time.Minute)
	ctx := s.ctx()

	var wins, rejected atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.service.Refresh(ctx, pair.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidToken):
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(9), rejected.Load())
	s.Len(s.audit.byAction(audit.ActionTokenRefreshed), 1)
}

func (s *ServiceSuite) TestRefreshAfterLogout() {
	pair := s.login()

	s.Require().NoError(s.service.Logout(s.ctx(), pair.RefreshToken))
	_, err := s.service.Refresh(s.ctx(), pair.RefreshToken)
	s.ErrorIs(err, ErrInvalidToken)
	s.Len(s.audit.byAction(audit.ActionLogout), 1)
}

func (s *ServiceSuite) TestRefreshRejectsWrongKind() {
	pair := s.login()

	_, err := s.service.Refresh(s.ctx(), pair.AccessToken)
	s.ErrorIs(err, ErrInvalidToken)

	_, err = s.service.Refresh(s.ctx(), "not-a-jwt")
	s.ErrorIs(err, ErrInvalidToken)
}

func (s *ServiceSuite) TestRefreshExpired() {
	pair := s.login()

	s.now = s.now.Add(8 * 24 * time.Hour)
	_, err := s.service.Refresh(s.ctx(), pair.RefreshToken)
	s.ErrorIs(err, ErrInvalidToken)
}

func (s *ServiceSuite) TestRefreshForUnknownUser() {
	issued, err := s.tokens.IssueRefresh(404, 0)
	s.Require().NoError(err)

	_, err = s.service.Refresh(s.ctx(), issued.Token)
	s.ErrorIs(err, ErrInvalidToken)
}

func (s *ServiceSuite) TestLogoutIgnoresInvalidTokens() {
	s.NoError(s.service.Logout(s.ctx(), "garbage"))
	s.Empty(s.audit.byAction(audit.ActionLogout))
}

func (s *ServiceSuite) TestCurrentUser() {
	u := s.registerUser("me", "me@example.com")

	got, err := s.service.CurrentUser(s.ctx(), u.ID)
	s.Require().NoError(err)
	s.Equal("me", got.Username)

	_, err = s.service.CurrentUser(s.ctx(), 404)
	s.ErrorIs(err, ErrUserNotFound)
}
