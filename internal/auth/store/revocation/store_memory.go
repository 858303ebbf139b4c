package revocation

import (
	"context"
	"sync"
	"time"
)

// sweepInterval is the minimum gap between full scans for expired entries.
const sweepInterval = time.Minute

// InMemoryStore is the single-process denylist used in tests and when Redis
// is not configured. Expired entries are dropped on lookup and by a sweep
// that runs on writes at most once per sweepInterval.
type InMemoryStore struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	clock     func() time.Time
	nextSweep time.Time
}

type Option func(*InMemoryStore)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemory(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	if err := validateRevocation(jti, ttl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	s.sweepLocked(now)
	s.entries[jti] = now.Add(ttl)
	return nil
}

// Claim lists jti and reports whether this call added it. A jti that is
// already listed and unexpired is left untouched and reported as false.
func (s *InMemoryStore) Claim(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	if err := validateRevocation(jti, ttl); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	s.sweepLocked(now)
	if expiresAt, ok := s.entries[jti]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.entries[jti] = now.Add(ttl)
	return true, nil
}

// Len reports how many entries are held, expired ones included.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *InMemoryStore) sweepLocked(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	for jti, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, jti)
		}
	}
	s.nextSweep = now.Add(sweepInterval)
}

func (s *InMemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.entries[jti]
	if !ok {
		return false, nil
	}
	if !s.clock().Before(expiresAt) {
		delete(s.entries, jti)
		return false, nil
	}
	return true, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }
