package authkit

import (
	"context"
	"time"
)

// User roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User is an application account as returned by a UserStore.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         string
	CreatedAt    time.Time
}

// Identity returns the token payload for the user.
func (user User) Identity() Identity {
	return Identity{UserID: user.ID, Email: user.Email, Role: user.Role}
}

// NewUser carries the attributes for UserStore.Create.
type NewUser struct {
	Email        string
	PasswordHash string
	DisplayName  string
	Role         string
}

// RefreshTokenRecord tracks one issued refresh token.
type RefreshTokenRecord struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	IsRevoked bool
	RevokedAt time.Time
	CreatedAt time.Time
}

// UserStore persists and retrieves application users.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, userID string) (User, error)
	Create(ctx context.Context, attributes NewUser) (User, error)
}

// RefreshTokenStore manages refresh token records.
//
// MarkRevoked must be a compare-and-set: when several callers revoke the same active record,
// exactly one returns nil and the rest return ErrRefreshTokenAlreadyRevoked.
type RefreshTokenStore interface {
	CreateRecord(ctx context.Context, token string, userID string, expiresAt time.Time) (RefreshTokenRecord, error)
	FindActiveByToken(ctx context.Context, token string) (RefreshTokenRecord, error)
	MarkRevoked(ctx context.Context, record RefreshTokenRecord) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

var (
	_ RefreshTokenStore = (*MemoryRefreshTokenStore)(nil)
	_ RefreshTokenStore = (*DatabaseRefreshTokenStore)(nil)
	_ RefreshTokenStore = (*RedisRefreshTokenStore)(nil)
	_ UserStore         = (*DatabaseUserStore)(nil)
)
