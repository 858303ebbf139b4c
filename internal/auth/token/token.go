// Package token issues and verifies the HS256 JWTs used for sessions and
// email verification.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "authgate/pkg/domain-errors"
)

// Verification failures. All carry CodeInvalidToken so the transport layer
// answers with a generic denial.
var (
	ErrExpired          = dErrors.New(dErrors.CodeInvalidToken, "token has expired")
	ErrInvalidSignature = dErrors.New(dErrors.CodeInvalidToken, "token signature is invalid")
	ErrMalformed        = dErrors.New(dErrors.CodeInvalidToken, "token is malformed")
	ErrWrongKind        = dErrors.New(dErrors.CodeInvalidToken, "unexpected token kind")
)

const signingMethod = "HS256"

// Config is the token section of the process configuration.
type Config struct {
	Secret               string
	Issuer               string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	EmailVerificationTTL time.Duration
}

// Issued is a signed token plus the identifiers callers need for bookkeeping.
type Issued struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TTL is ExpiresAt - IssuedAt.
func (i Issued) TTL() time.Duration {
	return i.ExpiresAt.Sub(i.IssuedAt)
}

// Service issues and verifies tokens. It performs no I/O.
type Service struct {
	key    []byte
	issuer string
	ttls   map[Kind]time.Duration
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New builds a Service. The secret must be non-empty and every lifetime at
// least one second.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token signing secret is required")
	}
	for kind, ttl := range map[Kind]time.Duration{
		KindAccess:            cfg.AccessTTL,
		KindRefresh:           cfg.RefreshTTL,
		KindEmailVerification: cfg.EmailVerificationTTL,
	} {
		if ttl < time.Second {
			return nil, fmt.Errorf("%s token lifetime must be at least one second, got %s", kind, ttl)
		}
	}
	s := &Service{
		key:    []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttls: map[Kind]time.Duration{
			KindAccess:            cfg.AccessTTL,
			KindRefresh:           cfg.RefreshTTL,
			KindEmailVerification: cfg.EmailVerificationTTL,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured lifetime for kind.
func (s *Service) TTL(kind Kind) time.Duration {
	return s.ttls[kind]
}

// IssueAccess signs an access token. A zero ttl uses the configured default.
func (s *Service) IssueAccess(userID int64, email, role string, ttl time.Duration) (Issued, error) {
	c := &AccessClaims{Email: email, Role: role}
	return s.issue(KindAccess, userID, ttl, &c.Common, c)
}

// IssueRefresh signs a refresh token. A zero ttl uses the configured default.
func (s *Service) IssueRefresh(userID int64, ttl time.Duration) (Issued, error) {
	c := &RefreshClaims{}
	return s.issue(KindRefresh, userID, ttl, &c.Common, c)
}

// IssueEmailVerification signs an email-verification token. A zero ttl uses
// the configured default.
func (s *Service) IssueEmailVerification(userID int64, email string, ttl time.Duration) (Issued, error) {
	c := &EmailVerificationClaims{Email: email}
	return s.issue(KindEmailVerification, userID, ttl, &c.Common, c)
}

func (s *Service) issue(kind Kind, userID int64, ttl time.Duration, common *Common, claims jwt.Claims) (Issued, error) {
	if ttl == 0 {
		ttl = s.ttls[kind]
	}
	// NumericDate has second precision; keep exp - iat exact.
	ttl = ttl.Truncate(time.Second)
	if ttl <= 0 {
		return Issued{}, fmt.Errorf("issue %s token: lifetime must be at least one second", kind)
	}

	now := s.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	jti := uuid.NewString()

	common.Type = kind
	common.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        jti,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Issued{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return Issued{Token: signed, ID: jti, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, expiry and discriminator and returns the
// kind-specific claims. It does not enforce which kind the caller expected;
// use the typed helpers for that.
func (s *Service) Verify(tokenString string) (Claims, error) {
	env := &envelope{}
	if _, err := s.parser().ParseWithClaims(tokenString, env, s.keyFunc); err != nil {
		return nil, mapParseError(err)
	}
	if !env.Type.valid() {
		return nil, ErrMalformed
	}
	userID, err := strconv.ParseInt(env.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, ErrMalformed
	}

	var claims Claims
	var common *Common
	switch env.Type {
	case KindAccess:
		c := &AccessClaims{}
		claims, common = c, &c.Common
	case KindRefresh:
		c := &RefreshClaims{}
		claims, common = c, &c.Common
	case KindEmailVerification:
		c := &EmailVerificationClaims{}
		claims, common = c, &c.Common
	}
	// Signature and time checks already passed above.
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims.(jwt.Claims)); err != nil {
		return nil, ErrMalformed
	}
	common.userID = userID
	return claims, nil
}

// VerifyAccess verifies an access token.
func (s *Service) VerifyAccess(tokenString string) (*AccessClaims, error) {
	return verifyAs[*AccessClaims](s, tokenString)
}

// VerifyRefresh verifies a refresh token.
func (s *Service) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	return verifyAs[*RefreshClaims](s, tokenString)
}

// VerifyEmailVerification verifies an email-verification token.
func (s *Service) VerifyEmailVerification(tokenString string) (*EmailVerificationClaims, error) {
	return verifyAs[*EmailVerificationClaims](s, tokenString)
}

func verifyAs[T Claims](s *Service, tokenString string) (T, error) {
	var zero T
	claims, err := s.Verify(tokenString)
	if err != nil {
		return zero, err
	}
	typed, ok := claims.(T)
	if !ok {
		return zero, ErrWrongKind
	}
	return typed, nil
}

func (s *Service) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	return jwt.NewParser(opts...)
}

func (s *Service) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrTokenUnverifiable
	}
	return s.key, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}

// ValidateAccessToken adapts VerifyAccess to the bearer middleware.
func (s *Service) ValidateAccessToken(tokenString string) (int64, error) {
	claims, err := s.VerifyAccess(tokenString)
	if err != nil {
		return 0, err
	}
	return claims.UserID(), nil
}
