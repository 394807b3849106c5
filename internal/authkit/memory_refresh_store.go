package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryRefreshTokenStore is an in-memory store intended for tests and dev.
type MemoryRefreshTokenStore struct {
	mutex  sync.Mutex
	byID   map[string]*memoryRecord
	byHash map[string]string
	byUser map[string][]string
	clock  Clock
}

type memoryRecord struct {
	ID        string
	UserID    string
	Hash      string
	ExpiresAt time.Time
	IsRevoked bool
	RevokedAt time.Time
	CreatedAt time.Time
}

// NewMemoryRefreshTokenStore creates a new in-memory token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		byID:   make(map[string]*memoryRecord),
		byHash: make(map[string]string),
		byUser: make(map[string][]string),
		clock:  NewSystemClock(),
	}
}

// CreateRecord stores a new active record for token.
func (store *MemoryRefreshTokenStore) CreateRecord(ctx context.Context, token string, userID string, expiresAt time.Time) (RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.memory: %w", ErrRefreshTokenEmpty)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	hashValue := HashRefreshToken(token)
	if _, exists := store.byHash[hashValue]; exists {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.memory: %w", ErrRefreshTokenDuplicate)
	}
	record := &memoryRecord{
		ID:        newRecordID(),
		UserID:    userID,
		Hash:      hashValue,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: store.clock.Now(),
	}
	store.byID[record.ID] = record
	store.byHash[hashValue] = record.ID
	store.byUser[userID] = append(store.byUser[userID], record.ID)
	return record.toRecord(token), nil
}

// FindActiveByToken returns the non-revoked record for token.
func (store *MemoryRefreshTokenStore) FindActiveByToken(ctx context.Context, token string) (RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.memory: %w", ErrRefreshTokenEmpty)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	recordID, ok := store.byHash[HashRefreshToken(token)]
	if !ok {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.memory: %w", ErrRefreshTokenNotFound)
	}
	record := store.byID[recordID]
	if record == nil || record.IsRevoked {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.memory: %w", ErrRefreshTokenNotFound)
	}
	return record.toRecord(token), nil
}

// MarkRevoked flips the record to revoked if it is still active.
func (store *MemoryRefreshTokenStore) MarkRevoked(ctx context.Context, target RefreshTokenRecord) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[target.ID]
	if record == nil {
		return fmt.Errorf("refresh_store.revoke.memory: %w", ErrRefreshTokenNotFound)
	}
	if record.IsRevoked {
		return fmt.Errorf("refresh_store.revoke.memory: %w", ErrRefreshTokenAlreadyRevoked)
	}
	record.IsRevoked = true
	record.RevokedAt = store.clock.Now()
	return nil
}

// RevokeAllForUser revokes every record owned by userID.
func (store *MemoryRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	now := store.clock.Now()
	for _, recordID := range store.byUser[userID] {
		record := store.byID[recordID]
		if record == nil || record.IsRevoked {
			continue
		}
		record.IsRevoked = true
		record.RevokedAt = now
	}
	return nil
}

func (record *memoryRecord) toRecord(token string) RefreshTokenRecord {
	return RefreshTokenRecord{
		ID:        record.ID,
		Token:     token,
		UserID:    record.UserID,
		ExpiresAt: record.ExpiresAt,
		IsRevoked: record.IsRevoked,
		RevokedAt: record.RevokedAt,
		CreatedAt: record.CreatedAt,
	}
}
