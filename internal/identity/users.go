package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// UserStore persists accounts. Lookups of unknown users return
// ErrUserNotFound; Create returns ErrEmailInUse for a taken email.
type UserStore interface {
	Create(ctx context.Context, u User) error
	ByID(ctx context.Context, id string) (User, error)
	ByEmail(ctx context.Context, email string) (User, error)
	ByGoogleSubject(ctx context.Context, subject string) (User, error)
	Update(ctx context.Context, u User) error
}

// MemoryUsers is an in-process UserStore.
type MemoryUsers struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryUsers constructs an empty store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[string]User)}
}

// Create inserts u.
func (m *MemoryUsers) Create(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("%s: %w", u.Email, ErrEmailInUse)
		}
		if u.GoogleSubject != "" && existing.GoogleSubject == u.GoogleSubject {
			return fmt.Errorf("google subject %s already linked", u.GoogleSubject)
		}
	}
	m.users[u.ID] = u
	return nil
}

// ByID looks a user up by id.
func (m *MemoryUsers) ByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	return u, nil
}

// ByEmail looks a user up by email, ignoring case.
func (m *MemoryUsers) ByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%s: %w", email, ErrUserNotFound)
}

// ByGoogleSubject looks a user up by the linked Google account.
func (m *MemoryUsers) ByGoogleSubject(_ context.Context, subject string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if subject != "" && u.GoogleSubject == subject {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("google subject %s: %w", subject, ErrUserNotFound)
}

// Update replaces an existing user.
func (m *MemoryUsers) Update(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrUserNotFound)
	}
	m.users[u.ID] = u
	return nil
}
