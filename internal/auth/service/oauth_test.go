package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/mock/gomock"

	"authgate/internal/auth/models"
	"authgate/internal/auth/oauth"
	"authgate/internal/auth/store/social"
	"authgate/internal/auth/store/user"
	"authgate/internal/auth/token"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/platform/audit"
	"authgate/pkg/platform/sentinel"
)

func googleTokens(access string) models.ProviderTokens {
	return models.ProviderTokens{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		IDToken:      "id-token",
		ExpiresIn:    time.Hour,
	}
}

func identity(subject, addr, name string) models.ProviderIdentity {
	return models.ProviderIdentity{Subject: subject, Email: addr, EmailVerified: true, Name: name}
}

func (s *ServiceSuite) expectCallback(code string, tokens models.ProviderTokens, id models.ProviderIdentity) {
	s.provider.EXPECT().ExchangeCode(gomock.Any(), code).Return(tokens, nil)
	s.provider.EXPECT().VerifyIdentityToken(gomock.Any(), tokens.IDToken).Return(id, nil)
}

func (s *ServiceSuite) TestOAuthLoginURL() {
	s.provider.EXPECT().AuthCodeURL("state-1").Return("https://accounts.example/auth?state=state-1")

	got, err := s.service.OAuthLoginURL("state-1")
	s.Require().NoError(err)
	s.Equal("https://accounts.example/auth?state=state-1", got)
}

func (s *ServiceSuite) TestProviderNotEnabled() {
	svc := New(s.users, s.links, s.tokens)

	_, err := svc.OAuthLoginURL("state")
	s.ErrorIs(err, ErrProviderNotEnabled)
	_, err = svc.HandleOAuthCallback(s.ctx(), "code")
	s.ErrorIs(err, ErrProviderNotEnabled)
}

func (s *ServiceSuite) TestCallbackCreatesUser() {
	s.expectCallback("code-1", googleTokens("at-1"), identity("sub-1", "new.person@example.com", "New Person"))

	res, err := s.service.HandleOAuthCallback(s.ctx(), "code-1")
	s.Require().NoError(err)
	s.Equal(OutcomeCreated, res.Outcome)
	s.Equal("new.person", res.User.Username)
	s.True(res.User.IsVerified)
	s.False(res.User.HasPassword())
	s.NotEmpty(res.Tokens.AccessToken)

	links, err := s.links.FindByUserID(s.ctx(), res.User.ID)
	s.Require().NoError(err)
	s.Require().Len(links, 1)
	s.Equal("sub-1", links[0].ProviderUserID)
	s.Equal("at-1", links[0].AccessToken)
	s.Len(s.audit.byAction(audit.ActionOAuthUserCreated), 1)
}

func (s *ServiceSuite) TestCallbackIsIdempotent() {
	id := identity("sub-2", "repeat@example.com", "Repeat")
	s.expectCallback("code-a", googleTokens("at-a"), id)
	s.expectCallback("code-b", googleTokens("at-b"), id)

	first, err := s.service.HandleOAuthCallback(s.ctx(), "code-a")
	s.Require().NoError(err)
	second, err := s.service.HandleOAuthCallback(s.ctx(), "code-b")
	s.Require().NoError(err)

	s.Equal(OutcomeReused, second.Outcome)
	s.Equal(first.User.ID, second.User.ID)

	links, err := s.links.FindByUserID(s.ctx(), first.User.ID)
	s.Require().NoError(err)
	s.Require().Len(links, 1)
	s.Equal("at-b", links[0].AccessToken, "provider tokens are refreshed on reuse")
}

func (s *ServiceSuite) TestCallbackLinksExistingAccount() {
	local := s.registerUser("alice", "alice@example.com")
	s.expectCallback("code", googleTokens("at"), identity("sub-alice", "alice@example.com", "Alice"))

	res, err := s.service.HandleOAuthCallback(s.ctx(), "code")
	s.Require().NoError(err)
	s.Equal(OutcomeLinked, res.Outcome)
	s.Equal(local.ID, res.User.ID)
	s.True(res.User.HasPassword(), "linking keeps the local password")

	_, err = s.service.Login(s.ctx(), "alice@example.com", strongPassword)
	s.NoError(err)
	s.Len(s.audit.byAction(audit.ActionOAuthLinked), 1)
}

func (s *ServiceSuite) TestCallbackSuffixesTakenUsername() {
	s.registerUser("bob", "bob@other.example")
	s.expectCallback("code", googleTokens("at"), identity("sub-bob", "bob@example.com", "Bob"))

	res, err := s.service.HandleOAuthCallback(s.ctx(), "code")
	s.Require().NoError(err)
	s.Equal(OutcomeCreated, res.Outcome)
	s.Equal("bob_1", res.User.Username)
}

func (s *ServiceSuite) TestCallbackIncompleteIdentity() {
	longEmail := strings.Repeat("x", models.MaxEmailLength) + "@example.com"
	cases := map[string]models.ProviderIdentity{
		"unverified email": {Subject: "s", Email: "x@example.com", EmailVerified: false, Name: "X"},
		"missing email":    {Subject: "s", EmailVerified: true, Name: "X"},
		"missing name":     {Subject: "s", Email: "x@example.com", EmailVerified: true},
		"email too long":   {Subject: "s", Email: longEmail, EmailVerified: true, Name: "X"},
	}
	for name, id := range cases {
		s.Run(name, func() {
			s.expectCallback("code", googleTokens("at"), id)
			_, err := s.service.HandleOAuthCallback(s.ctx(), "code")
			s.ErrorIs(err, ErrIncompleteIdentity)
		})
	}

	exists, err := s.users.ExistsByEmail(s.ctx(), "x@example.com")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *ServiceSuite) TestCallbackTruncatesLongName() {
	long := strings.Repeat("é", models.MaxNameLength+20)
	s.expectCallback("code", googleTokens("at"), identity("sub-long", "long.name@example.com", long))

	res, err := s.service.HandleOAuthCallback(s.ctx(), "code")
	s.Require().NoError(err)
	s.Equal(OutcomeCreated, res.Outcome)
	s.Equal(strings.Repeat("é", models.MaxNameLength), res.User.Name)
}

func (s *ServiceSuite) TestCallbackProviderFailures() {
	s.Run("exchange unavailable", func() {
		s.provider.EXPECT().ExchangeCode(gomock.Any(), "code").Return(models.ProviderTokens{}, oauth.ErrProviderUnavailable)
		_, err := s.service.HandleOAuthCallback(s.ctx(), "code")
		s.True(dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
	})

	s.Run("rejected code", func() {
		s.provider.EXPECT().ExchangeCode(gomock.Any(), "used").Return(models.ProviderTokens{}, oauth.ErrCodeRejected)
		_, err := s.service.HandleOAuthCallback(s.ctx(), "used")
		s.ErrorIs(err, oauth.ErrCodeRejected)
	})

	s.Run("bad id token", func() {
		tokens := googleTokens("at")
		s.provider.EXPECT().ExchangeCode(gomock.Any(), "code").Return(tokens, nil)
		s.provider.EXPECT().VerifyIdentityToken(gomock.Any(), tokens.IDToken).Return(models.ProviderIdentity{}, oauth.ErrInvalidIDToken)
		_, err := s.service.HandleOAuthCallback(s.ctx(), "code")
		s.ErrorIs(err, oauth.ErrInvalidIDToken)
	})

	s.Run("empty code", func() {
		_, err := s.service.HandleOAuthCallback(s.ctx(), "")
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestCallbackOrphanedLink() {
	orphan, err := models.NewSocialAccount(999, "google", identity("sub-orphan", "orphan@example.com", "O"), googleTokens("at"), s.now)
	s.Require().NoError(err)
	_, err = s.links.Create(s.ctx(), orphan)
	s.Require().NoError(err)
	s.expectCallback("code", googleTokens("at"), identity("sub-orphan", "orphan@example.com", "O"))

	_, err = s.service.HandleOAuthCallback(s.ctx(), "code")
	s.ErrorIs(err, ErrOrphanedLink)
	s.Len(s.audit.byAction(audit.ActionOrphanedLinkDetected), 1)

	exists, err := s.users.ExistsByEmail(s.ctx(), "orphan@example.com")
	s.Require().NoError(err)
	s.False(exists, "an orphaned link is never repaired by creating a user")
}

func (s *ServiceSuite) TestConcurrentCallbacksConverge() {
	id := identity("sub-race", "race@example.com", "Race")
	s.provider.EXPECT().ExchangeCode(gomock.Any(), gomock.Any()).Return(googleTokens("at"), nil).AnyTimes()
	s.provider.EXPECT().VerifyIdentityToken(gomock.Any(), gomock.Any()).Return(id, nil).AnyTimes()

	const callers = 20
	var wg sync.WaitGroup
	ids := make(chan int64, callers)
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.service.HandleOAuthCallback(s.ctx(), "code")
			if err != nil {
				errs <- err
				return
			}
			ids <- res.User.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	u, err := s.users.FindByEmail(s.ctx(), "race@example.com")
	s.Require().NoError(err)
	for got := range ids {
		s.Equal(u.ID, got)
	}
	links, err := s.links.FindByUserID(s.ctx(), u.ID)
	s.Require().NoError(err)
	s.Len(links, 1)
}

// racingUsers reports an email collision on the first create, as if another
// callback inserted the same user in between the lookup and the insert.
type racingUsers struct {
	*user.InMemoryStore
	once sync.Once
}

func (r *racingUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	var raced bool
	r.once.Do(func() {
		raced = true
		winner := *u
		if _, err := r.InMemoryStore.Create(ctx, &winner); err != nil {
			panic(err)
		}
	})
	if raced {
		return nil, sentinel.NewUniqueViolation(user.FieldEmail)
	}
	return r.InMemoryStore.Create(ctx, u)
}

func (s *ServiceSuite) TestCallbackRetriesAfterLostRace() {
	users := &racingUsers{InMemoryStore: user.NewInMemory()}
	links := social.NewInMemory()
	svc := New(users, links, s.tokens, WithProvider(s.provider), WithMailer(s.mailer))
	s.expectCallback("code", googleTokens("at"), identity("sub-lost", "lost@example.com", "Lost"))

	res, err := svc.HandleOAuthCallback(s.ctx(), "code")
	s.Require().NoError(err)
	s.Equal(OutcomeLinked, res.Outcome, "the second pass finds the winner's user")

	all, err := links.FindByUserID(s.ctx(), res.User.ID)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *ServiceSuite) TestUnlinkProvider() {
	s.Run("refuses to remove the only sign-in method", func() {
		s.expectCallback("code", googleTokens("at"), identity("sub-only", "only@example.com", "Only"))
		res, err := s.service.HandleOAuthCallback(s.ctx(), "code")
		s.Require().NoError(err)

		err = s.service.UnlinkProvider(s.ctx(), res.User.ID, "google")
		s.ErrorIs(err, ErrLastSignInMethod)
		links, err := s.links.FindByUserID(s.ctx(), res.User.ID)
		s.Require().NoError(err)
		s.Len(links, 1)
	})

	s.Run("removes the link when a password remains", func() {
		local := s.registerUser("both", "both@example.com")
		s.expectCallback("code", googleTokens("at"), identity("sub-both", "both@example.com", "Both"))
		_, err := s.service.HandleOAuthCallback(s.ctx(), "code")
		s.Require().NoError(err)

		s.Require().NoError(s.service.UnlinkProvider(s.ctx(), local.ID, "google"))
		links, err := s.links.FindByUserID(s.ctx(), local.ID)
		s.Require().NoError(err)
		s.Empty(links)
		s.Len(s.audit.byAction(audit.ActionOAuthUnlinked), 1)
	})

	s.Run("unknown link", func() {
		local := s.registerUser("none", "none@example.com")
		s.ErrorIs(s.service.UnlinkProvider(s.ctx(), local.ID, "google"), ErrLinkNotFound)
	})

	s.Run("unknown user", func() {
		s.ErrorIs(s.service.UnlinkProvider(s.ctx(), 404, "google"), ErrUserNotFound)
	})
}

func (s *ServiceSuite) TestCallbackTokensAreAppTokens() {
	s.expectCallback("code", googleTokens("at"), identity("sub-t", "t@example.com", "T"))
	res, err := s.service.HandleOAuthCallback(s.ctx(), "code")
	s.Require().NoError(err)

	claims, err := s.tokens.VerifyRefresh(res.Tokens.RefreshToken)
	s.Require().NoError(err)
	s.Equal(res.User.ID, claims.UserID())
	s.Equal(token.KindRefresh, claims.Kind())
}
