//go:build integration

package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"authgate/pkg/platform/sentinel"
	"authgate/pkg/testutil/containers"
)

type RedisDenylistSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
}

func TestRedisDenylistSuite(t *testing.T) {
	suite.Run(t, new(RedisDenylistSuite))
}

func (s *RedisDenylistSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = NewRedis(s.redis.Client)
}

func (s *RedisDenylistSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisDenylistSuite) TestRevokeAndCheck() {
	ctx := context.Background()
	s.Require().NoError(s.store.RevokeToken(ctx, "jti-a", time.Minute))

	revoked, err := s.store.IsRevoked(ctx, "jti-a")
	s.Require().NoError(err)
	s.True(revoked)

	revoked, err = s.store.IsRevoked(ctx, "jti-b")
	s.Require().NoError(err)
	s.False(revoked)

	ttl, err := s.redis.Client.TTL(ctx, keyPrefix+"jti-a").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, time.Minute)
}

func (s *RedisDenylistSuite) TestEntryExpires() {
	ctx := context.Background()
	s.Require().NoError(s.store.RevokeToken(ctx, "short", time.Second))
	s.Eventually(func() bool {
		revoked, err := s.store.IsRevoked(ctx, "short")
		return err == nil && !revoked
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *RedisDenylistSuite) TestClaimIsExclusive() {
	ctx := context.Background()
	added, err := s.store.Claim(ctx, "jti-c", time.Minute)
	s.Require().NoError(err)
	s.True(added)

	added, err = s.store.Claim(ctx, "jti-c", time.Minute)
	s.Require().NoError(err)
	s.False(added)

	revoked, err := s.store.IsRevoked(ctx, "jti-c")
	s.Require().NoError(err)
	s.True(revoked)
}

func (s *RedisDenylistSuite) TestRejectsNonPositiveTTL() {
	s.ErrorIs(s.store.RevokeToken(context.Background(), "jti", 0), sentinel.ErrInvalidState)
}
