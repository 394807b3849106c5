package web

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/shopauth/internal/authkit"
)

var _ authkit.UserStore = (*InMemoryUsers)(nil)

// InMemoryUsers is a simple user store used for demo and local runs.
type InMemoryUsers struct {
	mutex   sync.RWMutex
	byID    map[string]authkit.User
	byEmail map[string]string
}

// NewInMemoryUsers constructs an empty store.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{
		byID:    make(map[string]authkit.User),
		byEmail: make(map[string]string),
	}
}

// FindByEmail returns the user registered under email, case-insensitively.
func (store *InMemoryUsers) FindByEmail(ctx context.Context, email string) (authkit.User, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	userID, ok := store.byEmail[normalizeEmail(email)]
	if !ok {
		return authkit.User{}, fmt.Errorf("user_store.find_by_email.memory: %w", authkit.ErrUserNotFound)
	}
	return store.byID[userID], nil
}

// FindByID returns the user with the given identifier.
func (store *InMemoryUsers) FindByID(ctx context.Context, userID string) (authkit.User, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	user, ok := store.byID[userID]
	if !ok {
		return authkit.User{}, fmt.Errorf("user_store.find_by_id.memory: %w", authkit.ErrUserNotFound)
	}
	return user, nil
}

// Create inserts a user; an email that is already registered reports ErrUserEmailTaken.
func (store *InMemoryUsers) Create(ctx context.Context, attributes authkit.NewUser) (authkit.User, error) {
	email := normalizeEmail(attributes.Email)
	role := attributes.Role
	if role == "" {
		role = authkit.RoleCustomer
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.byEmail[email]; exists {
		return authkit.User{}, fmt.Errorf("user_store.create.memory: %w", authkit.ErrUserEmailTaken)
	}
	user := authkit.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: attributes.PasswordHash,
		DisplayName:  attributes.DisplayName,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	store.byID[user.ID] = user
	store.byEmail[email] = user.ID
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
