package authkit

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SessionRevoker signs a user out of every session by revoking all of their refresh tokens.
type SessionRevoker struct {
	refreshTokens RefreshTokenStore
	logger        *zap.Logger
}

// NewSessionRevoker constructs a revoker over refreshTokens.
func NewSessionRevoker(refreshTokens RefreshTokenStore, logger *zap.Logger) *SessionRevoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRevoker{refreshTokens: refreshTokens, logger: logger}
}

// RevokeAll revokes every refresh token owned by userID. Calling it again is harmless.
func (revoker *SessionRevoker) RevokeAll(ctx context.Context, userID string) error {
	if err := revoker.refreshTokens.RevokeAllForUser(ctx, userID); err != nil {
		revoker.logger.Error("revoke all failed", zap.String("code", "auth.revoke_all.store_error"), zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("auth.revoke_all: %w", ErrStoreFailure)
	}
	return nil
}
