// Package service implements the authentication flows: local registration and
// login, email verification, token refresh and logout, and reconciliation of
// external provider identities with local accounts.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"authgate/internal/auth/metrics"
	"authgate/internal/auth/models"
	"authgate/internal/auth/oauth"
	"authgate/internal/auth/password"
	"authgate/internal/auth/store/revocation"
	"authgate/internal/auth/token"
	"authgate/internal/mail"
	"authgate/pkg/attrs"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/platform/audit"
	"authgate/pkg/platform/tx"
	"authgate/pkg/requestcontext"
)

type UserStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, u *models.User) (*models.User, error)
	Update(ctx context.Context, u *models.User) (*models.User, error)
}

type LinkStore interface {
	FindByProviderAndSubject(ctx context.Context, provider, subject string) (*models.SocialAccount, error)
	FindByUserID(ctx context.Context, userID int64) ([]models.SocialAccount, error)
	Create(ctx context.Context, link *models.SocialAccount) (*models.SocialAccount, error)
	UpdateTokens(ctx context.Context, id int64, tokens models.ProviderTokens, now time.Time) (*models.SocialAccount, error)
	DeleteByUserAndProvider(ctx context.Context, userID int64, provider string) error
}

// Denylist records spent refresh token ids. Claim must be atomic: of several
// concurrent claims for one jti, exactly one reports true.
type Denylist interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	Claim(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

type TokenIssuer interface {
	IssueAccess(userID int64, email, role string, ttl time.Duration) (token.Issued, error)
	IssueRefresh(userID int64, ttl time.Duration) (token.Issued, error)
	IssueEmailVerification(userID int64, email string, ttl time.Duration) (token.Issued, error)
	VerifyRefresh(tokenString string) (*token.RefreshClaims, error)
	VerifyEmailVerification(tokenString string) (*token.EmailVerificationClaims, error)
}

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, storedHash string) bool
	Burn(plaintext string)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) bool
}

// TxRunner groups store calls that must see a consistent view. In-memory
// wiring uses a mutex; Postgres wiring a real transaction carried in ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const (
	defaultRole = "user"
	// verifyEmailPath is appended to the application URL in verification mails.
	verifyEmailPath = "/api/v1/auth/verify-email"
)

var (
	ErrInvalidCredentials  = dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
	ErrInvalidToken        = dErrors.New(dErrors.CodeInvalidToken, "invalid or expired token")
	ErrUserNotFound        = dErrors.New(dErrors.CodeNotFound, "user not found")
	ErrEmailExists         = dErrors.New(dErrors.CodeEmailExists, "email already registered")
	ErrUsernameExists      = dErrors.New(dErrors.CodeUsernameExists, "username already taken")
	ErrIncompleteIdentity  = dErrors.New(dErrors.CodeIncompleteIdentity, "provider identity is incomplete or unverified")
	ErrOrphanedLink        = dErrors.New(dErrors.CodeOrphanedLink, "account link points at a missing user")
	ErrProviderNotEnabled  = dErrors.New(dErrors.CodeNotFound, "identity provider not configured")
	ErrLinkNotFound        = dErrors.New(dErrors.CodeNotFound, "provider link not found")
	ErrLastSignInMethod    = dErrors.New(dErrors.CodeConflict, "cannot remove the only sign-in method")
	ErrUsernameUnavailable = dErrors.New(dErrors.CodeConflict, "could not allocate a username")
)

// Service coordinates the auth stores, token issuance, the identity provider
// and mail delivery.
type Service struct {
	users    UserStore
	links    LinkStore
	tokens   TokenIssuer
	denylist Denylist
	hasher   PasswordHasher
	mailer   mail.Dispatcher
	provider oauth.Provider
	tx       TxRunner

	appURL         string
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithDenylist(d Denylist) Option {
	return func(s *Service) {
		s.denylist = d
	}
}

func WithHasher(h PasswordHasher) Option {
	return func(s *Service) {
		s.hasher = h
	}
}

func WithMailer(m mail.Dispatcher) Option {
	return func(s *Service) {
		s.mailer = m
	}
}

// WithProvider enables social sign-in through p.
func WithProvider(p oauth.Provider) Option {
	return func(s *Service) {
		s.provider = p
	}
}

func WithTxRunner(r TxRunner) Option {
	return func(s *Service) {
		s.tx = r
	}
}

// WithAppURL sets the public base URL used in verification links.
func WithAppURL(u string) Option {
	return func(s *Service) {
		s.appURL = strings.TrimRight(u, "/")
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(users UserStore, links LinkStore, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		users:  users,
		links:  links,
		tokens: tokens,
		logger: slog.Default(),
		appURL: "http://localhost:8080",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.denylist == nil {
		s.denylist = revocation.NewInMemory()
	}
	if s.hasher == nil {
		s.hasher = password.NewHasher()
	}
	if s.mailer == nil {
		s.mailer = mail.NewLogDispatcher(s.logger)
	}
	if s.tx == nil {
		s.tx = &tx.MutexRunner{}
	}
	return s
}

var tracer = otel.Tracer("authgate/internal/auth/service")

// issuePair mints an access and refresh token for u.
func (s *Service) issuePair(u *models.User) (models.TokenPair, error) {
	access, err := s.tokens.IssueAccess(u.ID, u.Email, defaultRole, 0)
	if err != nil {
		return models.TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access token")
	}
	refresh, err := s.tokens.IssueRefresh(u.ID, 0)
	if err != nil {
		return models.TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue refresh token")
	}
	s.metrics.IncrementTokensIssued(string(token.KindAccess))
	s.metrics.IncrementTokensIssued(string(token.KindRefresh))
	return models.TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresIn:  access.TTL(),
		RefreshExpiresIn: refresh.TTL(),
	}, nil
}

// remaining returns how long a token issued with expiry still lives, at
// least one second so a denylist entry is always accepted.
func remaining(ctx context.Context, expiry time.Time) time.Duration {
	left := expiry.Sub(requestcontext.Now(ctx)).Truncate(time.Second)
	if left < time.Second {
		return time.Second
	}
	return left
}

func (s *Service) logAudit(ctx context.Context, action audit.Action, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(action), "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(action), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	s.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		UserID:    attrs.ExtractInt64(attributes, "user_id"),
		Subject:   attrs.ExtractString(attributes, "subject"),
		Action:    action,
		Reason:    attrs.ExtractString(attributes, "reason"),
		IP:        requestcontext.ClientIP(ctx),
		Device:    attrs.ExtractString(attributes, "device"),
		RequestID: requestcontext.RequestID(ctx),
	})
}
