//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"authgate/pkg/platform/audit"
	"authgate/pkg/testutil/containers"
)

type PostgresAuditStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Store
}

func TestPostgresAuditStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresAuditStoreSuite))
}

func (s *PostgresAuditStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = New(s.pg.DB)
}

func (s *PostgresAuditStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "audit_events"))
}

func (s *PostgresAuditStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := audit.Normalize(audit.Event{UserID: 9, Action: audit.ActionLoginSucceeded, IP: "10.0.0.1", Device: "Chrome on Linux"}, now)
	second := audit.Normalize(audit.Event{UserID: 9, Action: audit.ActionLogout}, now.Add(time.Second))
	anonymous := audit.Normalize(audit.Event{Subject: "ghost@example.com", Action: audit.ActionLoginFailed, Reason: "invalid_credentials"}, now.Add(2*time.Second))

	for _, e := range []audit.Event{first, second, anonymous} {
		s.Require().NoError(s.store.Append(ctx, e))
	}
	s.Require().NoError(s.store.Append(ctx, first), "duplicate ids are ignored")

	byUser, err := s.store.ListByUser(ctx, 9)
	s.Require().NoError(err)
	s.Require().Len(byUser, 2)
	s.Equal(audit.ActionLogout, byUser[0].Action)
	s.Equal("Chrome on Linux", byUser[1].Device)
	s.Equal(audit.CategorySecurity, byUser[1].Category)

	recent, err := s.store.ListRecent(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal(int64(0), recent[0].UserID)
	s.Equal("ghost@example.com", recent[0].Subject)
}
