package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"paybook.org/internal/ids"
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is an operator of the ledger (staff, reconciliation clerk, admin).
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Status       string
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStore describes persistence operations the auth subsystem needs.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Service authenticates credentials and resolves principals.
type Service struct {
	store UserStore
}

// NewService constructs the auth service.
func NewService(store UserStore) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: user store is required", ErrInvalidInput)
	}
	return &Service{store: store}, nil
}

// CreateUser validates and stores a new user with its role bundle.
func (s *Service) CreateUser(ctx context.Context, email, password string, roles []string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Status:       UserStatusActive,
		Roles:        dedupeRoles(roles),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and returns the resolved principal. Every
// failure mode collapses into ErrUnauthorized; callers never learn which
// part of the credential was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Principal{}, ErrUnauthorized
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	if user.Status != UserStatusActive {
		return Principal{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Principal{}, ErrUnauthorized
	}
	return NewPrincipal(user.ID, user.Roles), nil
}

// MemoryStore implements UserStore in process, for tests and DSN-less runs.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[u.Email]; exists {
		return fmt.Errorf("%w: email already registered", ErrInvalidInput)
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.TrimSpace(strings.ToLower(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}
