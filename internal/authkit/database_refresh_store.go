package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DatabaseRefreshTokenStore persists refresh token records using GORM.
type DatabaseRefreshTokenStore struct {
	db          *gorm.DB
	driverLabel string
	clock       Clock
}

type refreshTokenRow struct {
	ID            string `gorm:"column:id;primaryKey"`
	UserID        string `gorm:"column:user_id;index;not null"`
	TokenHash     string `gorm:"column:token_hash;uniqueIndex;not null"`
	ExpiresUnix   int64  `gorm:"column:expires_unix;not null"`
	IsRevoked     bool   `gorm:"column:is_revoked;not null;default:false"`
	RevokedAtUnix int64  `gorm:"column:revoked_at_unix;not null;default:0"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (refreshTokenRow) TableName() string {
	return "refresh_tokens"
}

// Driver exposes the selected database driver label.
func (store *DatabaseRefreshTokenStore) Driver() string {
	return store.driverLabel
}

// CreateRecord inserts a new active record keyed by the token hash.
func (store *DatabaseRefreshTokenStore) CreateRecord(ctx context.Context, token string, userID string, expiresAt time.Time) (RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.%s: %w", store.driverLabel, ErrRefreshTokenEmpty)
	}
	row := refreshTokenRow{
		ID:            newRecordID(),
		UserID:        userID,
		TokenHash:     HashRefreshToken(token),
		ExpiresUnix:   expiresAt.UTC().Unix(),
		CreatedAtUnix: store.clock.Now().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.%s: %w", store.driverLabel, ErrRefreshTokenDuplicate)
		}
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.%s: %w", store.driverLabel, err)
	}
	return row.toRecord(token), nil
}

// FindActiveByToken locates a non-revoked record by the token hash.
func (store *DatabaseRefreshTokenStore) FindActiveByToken(ctx context.Context, token string) (RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.%s: %w", store.driverLabel, ErrRefreshTokenEmpty)
	}
	var row refreshTokenRow
	err := store.db.WithContext(ctx).
		Where("token_hash = ? AND is_revoked = ?", HashRefreshToken(token), false).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
		}
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.%s: %w", store.driverLabel, err)
	}
	return row.toRecord(token), nil
}

// MarkRevoked flips is_revoked with a conditional update; the rows-affected count picks the winner.
func (store *DatabaseRefreshTokenStore) MarkRevoked(ctx context.Context, record RefreshTokenRecord) error {
	result := store.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("id = ? AND is_revoked = ?", record.ID, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at_unix": store.clock.Now().Unix()})
	if result.Error != nil {
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var row refreshTokenRow
	findErr := store.db.WithContext(ctx).Where("id = ?", record.ID).Take(&row).Error
	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
	}
	if findErr != nil {
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, findErr)
	}
	return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, ErrRefreshTokenAlreadyRevoked)
}

// RevokeAllForUser revokes every active record owned by userID.
func (store *DatabaseRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	result := store.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at_unix": store.clock.Now().Unix()})
	if result.Error != nil {
		return fmt.Errorf("refresh_store.revoke_all.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

func (row refreshTokenRow) toRecord(token string) RefreshTokenRecord {
	record := RefreshTokenRecord{
		ID:        row.ID,
		Token:     token,
		UserID:    row.UserID,
		ExpiresAt: time.Unix(row.ExpiresUnix, 0).UTC(),
		IsRevoked: row.IsRevoked,
		CreatedAt: time.Unix(row.CreatedAtUnix, 0).UTC(),
	}
	if row.RevokedAtUnix != 0 {
		record.RevokedAt = time.Unix(row.RevokedAtUnix, 0).UTC()
	}
	return record
}
