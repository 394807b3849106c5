package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

func newTestServerConfig() ServerConfig {
	return ServerConfig{
		AccessTokenSecret:  []byte("access-secret-for-tests"),
		RefreshTokenSecret: []byte("refresh-secret-for-tests"),
		TokenIssuer:        "shopauth-test",
		PasswordHashCost:   bcrypt.MinCost,
		AllowInsecureHTTP:  true,
	}
}

type stubUserStore struct {
	mutex   sync.Mutex
	byID    map[string]User
	byEmail map[string]string
	nextID  int
	findErr error
}

func newStubUserStore() *stubUserStore {
	return &stubUserStore{byID: make(map[string]User), byEmail: make(map[string]string)}
}

func (store *stubUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.findErr != nil {
		return User{}, store.findErr
	}
	userID, ok := store.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, fmt.Errorf("user_store.find_by_email.stub: %w", ErrUserNotFound)
	}
	return store.byID[userID], nil
}

func (store *stubUserStore) FindByID(ctx context.Context, userID string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.findErr != nil {
		return User{}, store.findErr
	}
	user, ok := store.byID[userID]
	if !ok {
		return User{}, fmt.Errorf("user_store.find_by_id.stub: %w", ErrUserNotFound)
	}
	return user, nil
}

func (store *stubUserStore) Create(ctx context.Context, attributes NewUser) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	email := strings.ToLower(strings.TrimSpace(attributes.Email))
	if _, exists := store.byEmail[email]; exists {
		return User{}, fmt.Errorf("user_store.create.stub: %w", ErrUserEmailTaken)
	}
	store.nextID++
	user := User{
		ID:           fmt.Sprintf("user-%d", store.nextID),
		Email:        email,
		PasswordHash: attributes.PasswordHash,
		DisplayName:  attributes.DisplayName,
		Role:         attributes.Role,
		CreatedAt:    time.Now().UTC(),
	}
	store.byID[user.ID] = user
	store.byEmail[email] = user.ID
	return user, nil
}

func (store *stubUserStore) setRole(userID string, role string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user := store.byID[userID]
	user.Role = role
	store.byID[userID] = user
}

func (store *stubUserStore) delete(userID string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user := store.byID[userID]
	delete(store.byEmail, user.Email)
	delete(store.byID, userID)
}

// failingRefreshStore fails the selected operations and delegates the rest.
type failingRefreshStore struct {
	RefreshTokenStore
	mutex        sync.Mutex
	failCreate   bool
	failRevoke   bool
	failFind     bool
	createCalled int
}

var errForcedStoreFailure = errors.New("forced store failure")

func (store *failingRefreshStore) setFailCreate(fail bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.failCreate = fail
}

func (store *failingRefreshStore) CreateRecord(ctx context.Context, token string, userID string, expiresAt time.Time) (RefreshTokenRecord, error) {
	store.mutex.Lock()
	store.createCalled++
	fail := store.failCreate
	store.mutex.Unlock()
	if fail {
		return RefreshTokenRecord{}, errForcedStoreFailure
	}
	return store.RefreshTokenStore.CreateRecord(ctx, token, userID, expiresAt)
}

func (store *failingRefreshStore) FindActiveByToken(ctx context.Context, token string) (RefreshTokenRecord, error) {
	store.mutex.Lock()
	fail := store.failFind
	store.mutex.Unlock()
	if fail {
		return RefreshTokenRecord{}, errForcedStoreFailure
	}
	return store.RefreshTokenStore.FindActiveByToken(ctx, token)
}

func (store *failingRefreshStore) RevokeAllForUser(ctx context.Context, userID string) error {
	store.mutex.Lock()
	fail := store.failRevoke
	store.mutex.Unlock()
	if fail {
		return errForcedStoreFailure
	}
	return store.RefreshTokenStore.RevokeAllForUser(ctx, userID)
}

type serviceFixture struct {
	service       *AuthService
	users         *stubUserStore
	refreshTokens RefreshTokenStore
	metrics       *CounterMetrics
}

func newServiceFixture(t *testing.T, refreshTokens RefreshTokenStore) serviceFixture {
	t.Helper()
	users := newStubUserStore()
	metrics := NewCounterMetrics()
	service, err := NewAuthService(newTestServerConfig(), Dependencies{
		Users:         users,
		RefreshTokens: refreshTokens,
		Logger:        zaptest.NewLogger(t),
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("failed to build auth service: %v", err)
	}
	return serviceFixture{service: service, users: users, refreshTokens: refreshTokens, metrics: metrics}
}
