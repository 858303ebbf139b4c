package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"authgate/internal/auth/metrics"
	"authgate/internal/auth/models"
	dErrors "authgate/pkg/domain-errors"
)

const ProviderGoogle = "google"

var tracer = otel.Tracer("authgate/internal/auth/oauth")

// GoogleConfig holds client credentials and endpoints. Endpoints default to
// Google's public ones and are overridable for tests.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	JWKSURL      string
	Issuers      []string
	Timeout      time.Duration
	JWKSCacheTTL time.Duration
}

const (
	defaultGoogleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
	defaultGoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
)

var defaultGoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Google implements Provider for Google sign-in.
type Google struct {
	config   *oauth2.Config
	clientID string
	issuers  []string
	timeout  time.Duration
	client   *http.Client
	clock    func() time.Time
	keys     *keyCache
	metrics  *metrics.Metrics
}

type GoogleOption func(*Google)

// WithHTTPClient replaces the client used for token and JWKS requests.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *Google) {
		if c != nil {
			g.client = c
		}
	}
}

func WithClock(clock func() time.Time) GoogleOption {
	return func(g *Google) {
		if clock != nil {
			g.clock = clock
		}
	}
}

func WithMetrics(m *metrics.Metrics) GoogleOption {
	return func(g *Google) {
		g.metrics = m
	}
}

func NewGoogle(cfg GoogleConfig, opts ...GoogleOption) (*Google, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google client id and secret are required")
	}
	g := &Google{
		clientID: cfg.ClientID,
		issuers:  cfg.Issuers,
		timeout:  cfg.Timeout,
		clock:    time.Now,
	}
	if len(g.issuers) == 0 {
		g.issuers = defaultGoogleIssuers
	}
	if g.timeout <= 0 {
		g.timeout = 10 * time.Second
	}
	g.client = &http.Client{Timeout: g.timeout}
	for _, opt := range opts {
		opt(g)
	}

	g.config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   valueOr(cfg.AuthURL, defaultGoogleAuthURL),
			TokenURL:  valueOr(cfg.TokenURL, defaultGoogleTokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ttl := cfg.JWKSCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	g.keys = newKeyCache(valueOr(cfg.JWKSURL, defaultGoogleJWKSURL), g.client, ttl, g.clock)
	return g, nil
}

func (g *Google) Name() string { return ProviderGoogle }

// AuthCodeURL asks for offline access and forces the consent screen so that
// Google returns a refresh token on every sign-in.
func (g *Google) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (g *Google) ExchangeCode(ctx context.Context, code string) (models.ProviderTokens, error) {
	ctx, span := tracer.Start(ctx, "google.exchange", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	start := time.Now()
	defer func() { g.metrics.ObserveProviderLatency(ProviderGoogle, "exchange", time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)

	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			span.SetAttributes(attribute.Int("http.status_code", re.Response.StatusCode))
			return models.ProviderTokens{}, fmt.Errorf("exchange code: %w: %s", ErrCodeRejected, re.ErrorCode)
		}
		return models.ProviderTokens{}, fmt.Errorf("exchange code: %w: %w", ErrProviderUnavailable, err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if tok.AccessToken == "" || tok.RefreshToken == "" || idToken == "" {
		return models.ProviderTokens{}, ErrIncompleteResponse
	}

	var expiresIn time.Duration
	switch {
	case tok.ExpiresIn > 0:
		expiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		expiresIn = tok.Expiry.Sub(g.clock())
	}
	return models.ProviderTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		ExpiresIn:    expiresIn,
	}, nil
}

// googleClaims mirrors the ID token payload. email_verified has been seen as
// both a JSON bool and the string "true".
type googleClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	Picture       string   `json:"picture"`
	jwt.RegisteredClaims
}

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		*b = flexBool(t == "true")
	default:
		*b = false
	}
	return nil
}

func (g *Google) VerifyIdentityToken(ctx context.Context, idToken string) (models.ProviderIdentity, error) {
	start := time.Now()
	defer func() { g.metrics.ObserveProviderLatency(ProviderGoogle, "verify_id_token", time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	claims := &googleClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("id token has no kid")
		}
		return g.keys.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(g.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.clock),
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeProviderUnavailable) {
			return models.ProviderIdentity{}, fmt.Errorf("verify id token: %w", err)
		}
		return models.ProviderIdentity{}, fmt.Errorf("verify id token: %w: %w", ErrInvalidIDToken, err)
	}
	if !slices.Contains(g.issuers, claims.Issuer) {
		return models.ProviderIdentity{}, fmt.Errorf("verify id token: %w: unexpected issuer %q", ErrInvalidIDToken, claims.Issuer)
	}

	return models.ProviderIdentity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
