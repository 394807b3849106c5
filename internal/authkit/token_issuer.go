package authkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/shopauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// TokenPair is one access token and the refresh token issued alongside it.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenIssuer signs access and refresh tokens and records every refresh token before returning it.
type TokenIssuer struct {
	accessSigner  *TokenSigner
	refreshSigner *TokenSigner
	refreshTokens RefreshTokenStore
	logger        *zap.Logger
}

// NewTokenIssuer builds an issuer from a normalized configuration.
func NewTokenIssuer(configuration ServerConfig, refreshTokens RefreshTokenStore, clock Clock, logger *zap.Logger) (*TokenIssuer, error) {
	normalized, err := configuration.Normalize()
	if err != nil {
		return nil, err
	}
	if refreshTokens == nil {
		return nil, fmt.Errorf("auth.issuer.missing_refresh_store: %w", ErrConfiguration)
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenIssuer{
		accessSigner:  NewTokenSigner(clock, sessionvalidator.TokenUseAccess, normalized.TokenIssuer, normalized.AccessTokenSecret, normalized.AccessTokenTTL),
		refreshSigner: NewTokenSigner(clock, sessionvalidator.TokenUseRefresh, normalized.TokenIssuer, normalized.RefreshTokenSecret, normalized.RefreshTokenTTL),
		refreshTokens: refreshTokens,
		logger:        logger,
	}, nil
}

// IssueTokens signs a token pair for identity and persists the refresh record.
// An identity without a user id yields ErrInvalidIdentity; a signing failure yields
// ErrConfiguration; a store failure yields ErrStoreFailure. No tokens are returned on error.
func (issuer *TokenIssuer) IssueTokens(ctx context.Context, identity Identity) (TokenPair, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return TokenPair{}, fmt.Errorf("auth.issue.identity: %w", ErrInvalidIdentity)
	}
	accessToken, accessExpiresAt, err := issuer.accessSigner.Sign(identity)
	if err != nil {
		issuer.logger.Error("access token mint failed", zap.String("code", "auth.issue.mint_access"), zap.String("user_id", identity.UserID), zap.Error(err))
		return TokenPair{}, fmt.Errorf("auth.issue.mint_access: %w", ErrConfiguration)
	}
	refreshToken, refreshExpiresAt, err := issuer.refreshSigner.Sign(identity)
	if err != nil {
		issuer.logger.Error("refresh token mint failed", zap.String("code", "auth.issue.mint_refresh"), zap.String("user_id", identity.UserID), zap.Error(err))
		return TokenPair{}, fmt.Errorf("auth.issue.mint_refresh: %w", ErrConfiguration)
	}
	if _, err := issuer.refreshTokens.CreateRecord(ctx, refreshToken, identity.UserID, refreshExpiresAt); err != nil {
		issuer.logger.Error("refresh token persist failed", zap.String("code", "auth.issue.store_error"), zap.String("user_id", identity.UserID), zap.Error(err))
		return TokenPair{}, fmt.Errorf("auth.issue.persist: %w", ErrStoreFailure)
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}
