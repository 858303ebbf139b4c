package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"authgate/pkg/platform/sentinel"
)

var checkDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "authgate_denylist_check_duration_ms",
	Help:    "Latency of refresh token denylist lookups in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const keyPrefix = "denylist:jti:"

// RedisStore shares the denylist across instances. Entries expire through
// Redis key TTLs.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if err := validateRevocation(jti, ttl); err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke %s: %w: %w", jti, sentinel.ErrUnavailable, err)
	}
	return nil
}

// Claim lists jti with SET NX and reports whether this call added it, so
// only one of several concurrent claims for the same jti wins.
func (s *RedisStore) Claim(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if err := validateRevocation(jti, ttl); err != nil {
		return false, err
	}
	added, err := s.client.SetNX(ctx, keyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w: %w", jti, sentinel.ErrUnavailable, err)
	}
	return added, nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	start := time.Now()
	defer func() {
		checkDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if jti == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("check %s: %w: %w", jti, sentinel.ErrUnavailable, err)
	}
	return n > 0, nil
}

// Ping is used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
