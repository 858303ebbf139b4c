package user

import (
	"context"
	"fmt"
	"sync"

	"authgate/internal/auth/models"
	"authgate/pkg/platform/sentinel"
)

// InMemoryStore keeps users in maps guarded by one RWMutex. Uniqueness is
// checked and the row inserted under the same write lock, so concurrent
// creates behave like a unique index.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]models.User
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{users: make(map[int64]models.User)}
}

func (s *InMemoryStore) FindByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || u.Lifecycle.IsDeleted {
		return nil, fmt.Errorf("user %d: %w", id, sentinel.ErrNotFound)
	}
	return &u, nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.findLocked(func(u models.User) bool { return u.Email == email }); ok {
		return &u, nil
	}
	return nil, fmt.Errorf("user by email: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.findLocked(func(u models.User) bool { return u.Username == username }); ok {
		return &u, nil
	}
	return nil, fmt.Errorf("user by username: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.findLocked(func(u models.User) bool { return u.Email == email })
	return ok, nil
}

func (s *InMemoryStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.findLocked(func(u models.User) bool { return u.Username == username })
	return ok, nil
}

// Create assigns the next id and stores a copy of u.
func (s *InMemoryStore) Create(_ context.Context, u *models.User) (*models.User, error) {
	if u == nil {
		return nil, fmt.Errorf("create user: user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUniqueLocked(*u, 0); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.nextID++
	stored := *u
	stored.ID = s.nextID
	s.users[stored.ID] = stored
	return &stored, nil
}

// Update replaces a live user. Soft-deleting is an update with a deleted lifecycle.
func (s *InMemoryStore) Update(_ context.Context, u *models.User) (*models.User, error) {
	if u == nil {
		return nil, fmt.Errorf("update user: user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[u.ID]
	if !ok || current.Lifecycle.IsDeleted {
		return nil, fmt.Errorf("update user %d: %w", u.ID, sentinel.ErrNotFound)
	}
	if !u.Lifecycle.IsDeleted {
		if err := s.checkUniqueLocked(*u, u.ID); err != nil {
			return nil, fmt.Errorf("update user %d: %w", u.ID, err)
		}
	}
	stored := *u
	s.users[u.ID] = stored
	return &stored, nil
}

func (s *InMemoryStore) findLocked(match func(models.User) bool) (models.User, bool) {
	for _, u := range s.users {
		if !u.Lifecycle.IsDeleted && match(u) {
			return u, true
		}
	}
	return models.User{}, false
}

func (s *InMemoryStore) checkUniqueLocked(u models.User, selfID int64) error {
	for id, existing := range s.users {
		if id == selfID || existing.Lifecycle.IsDeleted {
			continue
		}
		if existing.Email == u.Email {
			return sentinel.NewUniqueViolation(FieldEmail)
		}
		if existing.Username == u.Username {
			return sentinel.NewUniqueViolation(FieldUsername)
		}
	}
	return nil
}
