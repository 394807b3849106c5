package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DatabaseUserStore persists application users using GORM.
type DatabaseUserStore struct {
	db          *gorm.DB
	driverLabel string
	clock       Clock
}

type userRow struct {
	ID            string `gorm:"column:id;primaryKey"`
	Email         string `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash  string `gorm:"column:password_hash;not null"`
	FullName      string `gorm:"column:full_name;not null"`
	Role          string `gorm:"column:role;not null;default:customer"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (userRow) TableName() string {
	return "users"
}

// FindByEmail looks up a user by normalized email.
func (store *DatabaseUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	var row userRow
	err := store.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("user_store.find_by_email.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("user_store.find_by_email.%s: %w", store.driverLabel, err)
	}
	return row.toUser(), nil
}

// FindByID looks up a user by identifier.
func (store *DatabaseUserStore) FindByID(ctx context.Context, userID string) (User, error) {
	var row userRow
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("user_store.find_by_id.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("user_store.find_by_id.%s: %w", store.driverLabel, err)
	}
	return row.toUser(), nil
}

// Create inserts a user; the unique email index reports ErrUserEmailTaken.
func (store *DatabaseUserStore) Create(ctx context.Context, attributes NewUser) (User, error) {
	row := userRow{
		ID:            uuid.NewString(),
		Email:         normalizeEmail(attributes.Email),
		PasswordHash:  attributes.PasswordHash,
		FullName:      attributes.DisplayName,
		Role:          attributes.Role,
		CreatedAtUnix: store.clock.Now().Unix(),
	}
	if row.Role == "" {
		row.Role = RoleCustomer
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, ErrUserEmailTaken)
		}
		return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, err)
	}
	return row.toUser(), nil
}

func (row userRow) toUser() User {
	return User{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		DisplayName:  row.FullName,
		Role:         row.Role,
		CreatedAt:    time.Unix(row.CreatedAtUnix, 0).UTC(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
