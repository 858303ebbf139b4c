package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	dErrors "authgate/pkg/domain-errors"
)

type fakeGoogle struct {
	mu          sync.Mutex
	keys        map[string]*rsa.PrivateKey
	jwksFetches atomic.Int32
	jwksStatus  int
	jwksDelay   time.Duration
	tokenStatus int
	tokenBody   map[string]any
	tokenDelay  time.Duration
	lastForm    url.Values
}

func (f *fakeGoogle) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.lastForm = r.PostForm
		status, body, delay := f.tokenStatus, f.tokenBody, f.tokenDelay
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		f.jwksFetches.Add(1)
		f.mu.Lock()
		delay := f.jwksDelay
		f.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.jwksStatus != http.StatusOK {
			w.WriteHeader(f.jwksStatus)
			return
		}
		set := jwkSet{}
		for kid, key := range f.keys {
			set.Keys = append(set.Keys, jwk{
				Kid: kid,
				Kty: "RSA",
				Alg: "RS256",
				Use: "sig",
				N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})
	return mux
}

type GoogleSuite struct {
	suite.Suite
	fake   *fakeGoogle
	server *httptest.Server
	google *Google
	now    time.Time
	key    *rsa.PrivateKey
}

func TestGoogleSuite(t *testing.T) {
	suite.Run(t, new(GoogleSuite))
}

func (s *GoogleSuite) SetupTest() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)
	s.key = key
	s.now = time.Now().Truncate(time.Second)

	s.fake = &fakeGoogle{
		keys:        map[string]*rsa.PrivateKey{"kid-1": key},
		jwksStatus:  http.StatusOK,
		tokenStatus: http.StatusOK,
	}
	s.server = httptest.NewServer(s.fake.handler())
	s.T().Cleanup(s.server.Close)

	s.google, err = NewGoogle(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/api/v1/auth/google/callback",
		AuthURL:      s.server.URL + "/auth",
		TokenURL:     s.server.URL + "/token",
		JWKSURL:      s.server.URL + "/jwks",
		Timeout:      time.Second,
	}, WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
}

func (s *GoogleSuite) idToken(kid string, mutate func(jwt.MapClaims)) string {
	claims := jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            "client-id",
		"sub":            "google-sub-1",
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice",
		"picture":        "https://example.com/alice.png",
		"iat":            s.now.Unix(),
		"exp":            s.now.Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(s.fake.keys[kid])
	s.Require().NoError(err)
	return signed
}

func (s *GoogleSuite) TestNewGoogleRequiresCredentials() {
	_, err := NewGoogle(GoogleConfig{ClientID: "id"})
	s.Error(err)
}

func (s *GoogleSuite) TestAuthCodeURL() {
	raw := s.google.AuthCodeURL("state-123")
	u, err := url.Parse(raw)
	s.Require().NoError(err)
	q := u.Query()
	s.Equal("state-123", q.Get("state"))
	s.Equal("client-id", q.Get("client_id"))
	s.Equal("offline", q.Get("access_type"))
	s.Equal("consent", q.Get("prompt"))
	s.Equal("openid email profile", q.Get("scope"))
	s.Equal("code", q.Get("response_type"))
}

func (s *GoogleSuite) TestExchangeCode() {
	s.fake.tokenBody = map[string]any{
		"access_token":  "at",
		"refresh_token": "rt",
		"id_token":      "idt",
		"token_type":    "Bearer",
		"expires_in":    3600,
	}
	tokens, err := s.google.ExchangeCode(context.Background(), "auth-code")
	s.Require().NoError(err)
	s.Equal("at", tokens.AccessToken)
	s.Equal("rt", tokens.RefreshToken)
	s.Equal("idt", tokens.IDToken)
	s.InDelta(time.Hour.Seconds(), tokens.ExpiresIn.Seconds(), 5)
	s.Equal("auth-code", s.fake.lastForm.Get("code"))
	s.Equal("client-secret", s.fake.lastForm.Get("client_secret"))
}

func (s *GoogleSuite) TestExchangeCodeMissingTokens() {
	s.fake.tokenBody = map[string]any{"access_token": "at", "id_token": "idt", "token_type": "Bearer"}
	_, err := s.google.ExchangeCode(context.Background(), "code")
	s.ErrorIs(err, ErrIncompleteResponse)
	s.True(dErrors.HasCode(err, dErrors.CodeIncompleteIdentity))
}

func (s *GoogleSuite) TestExchangeCodeRejected() {
	s.fake.tokenStatus = http.StatusBadRequest
	s.fake.tokenBody = map[string]any{"error": "invalid_grant"}
	_, err := s.google.ExchangeCode(context.Background(), "used-code")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.False(dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
}

func (s *GoogleSuite) TestExchangeCodeServerError() {
	s.fake.tokenStatus = http.StatusServiceUnavailable
	s.fake.tokenBody = map[string]any{"error": "backend_error"}
	_, err := s.google.ExchangeCode(context.Background(), "code")
	s.True(dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
}

func (s *GoogleSuite) TestExchangeCodeTimeout() {
	g, err := NewGoogle(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     s.server.URL + "/token",
		Timeout:      50 * time.Millisecond,
	})
	s.Require().NoError(err)
	s.fake.tokenDelay = 500 * time.Millisecond
	s.fake.tokenBody = map[string]any{"access_token": "at"}

	_, err = g.ExchangeCode(context.Background(), "code")
	s.True(dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
}

func (s *GoogleSuite) TestVerifyIdentityToken() {
	identity, err := s.google.VerifyIdentityToken(context.Background(), s.idToken("kid-1", nil))
	s.Require().NoError(err)
	s.Equal("google-sub-1", identity.Subject)
	s.Equal("alice@example.com", identity.Email)
	s.True(identity.EmailVerified)
	s.Equal("Alice", identity.Name)
	s.Equal("https://example.com/alice.png", identity.Picture)
	s.True(identity.Complete())
}

func (s *GoogleSuite) TestVerifyAcceptsStringEmailVerifiedAndBareIssuer() {
	token := s.idToken("kid-1", func(c jwt.MapClaims) {
		c["email_verified"] = "true"
		c["iss"] = "accounts.google.com"
	})
	identity, err := s.google.VerifyIdentityToken(context.Background(), token)
	s.Require().NoError(err)
	s.True(identity.EmailVerified)
}

func (s *GoogleSuite) TestVerifyRejectsBadClaims() {
	cases := map[string]func(jwt.MapClaims){
		"wrong audience": func(c jwt.MapClaims) { c["aud"] = "someone-else" },
		"wrong issuer":   func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" },
		"expired":        func(c jwt.MapClaims) { c["exp"] = s.now.Add(-time.Minute).Unix() },
		"no expiry":      func(c jwt.MapClaims) { delete(c, "exp") },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			_, err := s.google.VerifyIdentityToken(context.Background(), s.idToken("kid-1", mutate))
			s.ErrorIs(err, ErrInvalidIDToken)
		})
	}
}

func (s *GoogleSuite) TestVerifyRejectsHMACToken() {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "https://accounts.google.com", "aud": "client-id", "sub": "x",
		"exp": s.now.Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "kid-1"
	signed, err := tok.SignedString([]byte("client-secret"))
	s.Require().NoError(err)

	_, err = s.google.VerifyIdentityToken(context.Background(), signed)
	s.ErrorIs(err, ErrInvalidIDToken)
}

func (s *GoogleSuite) TestUnknownKidRefetchesKeys() {
	_, err := s.google.VerifyIdentityToken(context.Background(), s.idToken("kid-1", nil))
	s.Require().NoError(err)
	s.Equal(int32(1), s.fake.jwksFetches.Load())

	_, err = s.google.VerifyIdentityToken(context.Background(), s.idToken("kid-1", nil))
	s.Require().NoError(err)
	s.Equal(int32(1), s.fake.jwksFetches.Load(), "cached keys are reused")

	rotated, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)
	s.fake.mu.Lock()
	s.fake.keys["kid-2"] = rotated
	s.fake.mu.Unlock()
	s.now = s.now.Add(2 * minRefetchInterval)

	_, err = s.google.VerifyIdentityToken(context.Background(), s.idToken("kid-2", nil))
	s.Require().NoError(err)
	s.Equal(int32(2), s.fake.jwksFetches.Load())
}

func (s *GoogleSuite) TestUnknownKidRefetchIsRateLimited() {
	_, err := s.google.VerifyIdentityToken(context.Background(), s.idToken("kid-1", nil))
	s.Require().NoError(err)

	rogue, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)
	// signed with a key the provider never publishes
	s.fake.mu.Lock()
	s.fake.keys["kid-rogue"] = rogue
	s.fake.mu.Unlock()
	token := s.idToken("kid-rogue", nil)
	s.fake.mu.Lock()
	delete(s.fake.keys, "kid-rogue")
	s.fake.mu.Unlock()

	for range 20 {
		_, err := s.google.VerifyIdentityToken(context.Background(), token)
		s.ErrorIs(err, ErrInvalidIDToken)
	}
	s.Equal(int32(1), s.fake.jwksFetches.Load())

	s.now = s.now.Add(2 * minRefetchInterval)
	_, err = s.google.VerifyIdentityToken(context.Background(), token)
	s.ErrorIs(err, ErrInvalidIDToken)
	s.Equal(int32(2), s.fake.jwksFetches.Load())
}

func (s *GoogleSuite) TestSlowKeyFetchHonoursCallerDeadline() {
	s.fake.jwksDelay = 800 * time.Millisecond
	token := s.idToken("kid-1", nil)

	first := make(chan error, 1)
	go func() {
		_, err := s.google.VerifyIdentityToken(context.Background(), token)
		first <- err
	}()
	s.Eventually(func() bool { return s.fake.jwksFetches.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := s.google.VerifyIdentityToken(ctx, token)
	s.Less(time.Since(start), 400*time.Millisecond)
	s.True(dErrors.HasCode(err, dErrors.CodeProviderUnavailable))

	s.NoError(<-first)
	s.Equal(int32(1), s.fake.jwksFetches.Load(), "waiters share one fetch")
}

func (s *GoogleSuite) TestJWKSUnavailable() {
	s.fake.jwksStatus = http.StatusBadGateway
	_, err := s.google.VerifyIdentityToken(context.Background(), s.idToken("kid-1", nil))
	s.True(dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
}

func (s *GoogleSuite) TestNewStateIsUnique() {
	s.NotEqual(NewState(), NewState())
	s.Len(NewState(), 36)
}
