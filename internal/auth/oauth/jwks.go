package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// minRefetchInterval bounds how often an unknown kid can trigger a fetch.
const minRefetchInterval = time.Minute

// keyCache holds the provider signing keys by kid. An unknown kid triggers a
// refetch, at most once per minRefetchInterval, so key rotation is picked up
// before the TTL runs out. Concurrent fetches are collapsed into one and no
// lock is held while it runs.
type keyCache struct {
	url    string
	client *http.Client
	ttl    time.Duration
	clock  func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	fetches singleflight.Group
}

func newKeyCache(url string, client *http.Client, ttl time.Duration, clock func() time.Time) *keyCache {
	return &keyCache{
		url:    url,
		client: client,
		ttl:    ttl,
		clock:  clock,
		keys:   make(map[string]*rsa.PublicKey),
	}
}

func (c *keyCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, age := c.lookup(kid)
	fresh := age < c.ttl
	if key != nil && fresh {
		return key, nil
	}
	if key == nil && fresh && age < minRefetchInterval {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}

	// The fetch outlives any single caller so a cancelled request does not
	// fail the others waiting on it.
	ch := c.fetches.DoChan("jwks", func() (any, error) {
		return nil, c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch jwks: %w: %w", ErrProviderUnavailable, ctx.Err())
	}

	if key, _ = c.lookup(kid); key == nil {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

// lookup returns the cached key for kid and the age of the key set.
func (c *keyCache) lookup(kid string) (*rsa.PublicKey, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fetchedAt.IsZero() {
		return nil, c.ttl
	}
	return c.keys[kid], c.clock().Sub(c.fetchedAt)
}

func (c *keyCache) refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "google.jwks", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("jwks.url", c.url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("fetch jwks: %w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("fetch jwks: status %d: %w", resp.StatusCode, ErrProviderUnavailable)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w: %w", ErrProviderUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	span.SetAttributes(attribute.Int("jwks.keys", len(keys)))

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = c.clock()
	c.mu.Unlock()
	return nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("unsupported exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
