package social

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"authgate/internal/auth/models"
	"authgate/pkg/platform/sentinel"
)

type linkKey struct {
	provider string
	subject  string
}

// InMemoryStore keeps links keyed by id with a (provider, subject) index.
type InMemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	links     map[int64]models.SocialAccount
	bySubject map[linkKey]int64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		links:     make(map[int64]models.SocialAccount),
		bySubject: make(map[linkKey]int64),
	}
}

func (s *InMemoryStore) FindByProviderAndSubject(_ context.Context, provider, subject string) (*models.SocialAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySubject[linkKey{provider, subject}]
	if !ok {
		return nil, fmt.Errorf("link %s/%s: %w", provider, subject, sentinel.ErrNotFound)
	}
	link := s.links[id]
	return &link, nil
}

// FindByUserID returns the user's links ordered by id.
func (s *InMemoryStore) FindByUserID(_ context.Context, userID int64) ([]models.SocialAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SocialAccount
	for _, link := range s.links {
		if link.UserID == userID {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Create(_ context.Context, link *models.SocialAccount) (*models.SocialAccount, error) {
	if link == nil {
		return nil, fmt.Errorf("create link: link is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{link.Provider, link.ProviderUserID}
	if _, taken := s.bySubject[key]; taken {
		return nil, fmt.Errorf("create link: %w", sentinel.NewUniqueViolation(FieldProviderSubject))
	}
	s.nextID++
	stored := *link
	stored.ID = s.nextID
	s.links[stored.ID] = stored
	s.bySubject[key] = stored.ID
	return &stored, nil
}

// UpdateTokens overwrites the stored provider tokens. An empty refresh token
// keeps the previous one, since providers only return it on first consent.
func (s *InMemoryStore) UpdateTokens(_ context.Context, id int64, tokens models.ProviderTokens, now time.Time) (*models.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return nil, fmt.Errorf("update link %d: %w", id, sentinel.ErrNotFound)
	}
	link.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		link.RefreshToken = tokens.RefreshToken
	}
	link.TokenExpiry = tokens.ExpiryFrom(now)
	link.Lifecycle = models.Touch(link.Lifecycle, now)
	s.links[id] = link
	return &link, nil
}

func (s *InMemoryStore) DeleteByUserAndProvider(_ context.Context, userID int64, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, link := range s.links {
		if link.UserID == userID && link.Provider == provider {
			delete(s.links, id)
			delete(s.bySubject, linkKey{link.Provider, link.ProviderUserID})
			return nil
		}
	}
	return fmt.Errorf("delete link %s for user %d: %w", provider, userID, sentinel.ErrNotFound)
}

// DeleteByUserID removes every link of a user, mirroring ON DELETE CASCADE.
func (s *InMemoryStore) DeleteByUserID(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, link := range s.links {
		if link.UserID == userID {
			delete(s.links, id)
			delete(s.bySubject, linkKey{link.Provider, link.ProviderUserID})
		}
	}
	return nil
}
