package authkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyemirov/shopauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// RefreshRotator exchanges a refresh token for a new pair and invalidates the presented one.
type RefreshRotator struct {
	validator     *sessionvalidator.Validator
	issuer        *TokenIssuer
	users         UserStore
	refreshTokens RefreshTokenStore
	clock         Clock
	logger        *zap.Logger
	metrics       MetricsRecorder
}

// RotatorDependencies groups the collaborators of a RefreshRotator.
type RotatorDependencies struct {
	Issuer        *TokenIssuer
	Users         UserStore
	RefreshTokens RefreshTokenStore
	Clock         Clock
	Logger        *zap.Logger
	Metrics       MetricsRecorder
}

// NewRefreshRotator builds a rotator that verifies tokens against the refresh secret.
func NewRefreshRotator(configuration ServerConfig, dependencies RotatorDependencies) (*RefreshRotator, error) {
	normalized, err := configuration.Normalize()
	if err != nil {
		return nil, err
	}
	if dependencies.Issuer == nil || dependencies.Users == nil || dependencies.RefreshTokens == nil {
		return nil, fmt.Errorf("auth.rotator.missing_dependency: %w", ErrConfiguration)
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := dependencies.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: normalized.RefreshTokenSecret,
		Issuer:     normalized.TokenIssuer,
		CookieName: normalized.RefreshCookieName,
		TokenUse:   sessionvalidator.TokenUseRefresh,
		Leeway:     normalized.TokenLeeway,
		Clock:      clock,
	})
	if err != nil {
		return nil, fmt.Errorf("auth.rotator.validator: %w", ErrConfiguration)
	}
	return &RefreshRotator{
		validator:     validator,
		issuer:        dependencies.Issuer,
		users:         dependencies.Users,
		refreshTokens: dependencies.RefreshTokens,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Rotate verifies refreshToken, issues a new pair and revokes the old record.
// Only one of several concurrent calls with the same token succeeds; the rest get ErrInvalidToken.
// A record whose stored expiry has passed is revoked and reported as ErrExpiredToken.
func (rotator *RefreshRotator) Rotate(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := rotator.validator.ValidateToken(refreshToken)
	if err != nil {
		rotator.metrics.Increment(MetricRefreshInvalid)
		return TokenPair{}, fmt.Errorf("auth.rotate.verify: %w", ErrInvalidToken)
	}

	record, err := rotator.refreshTokens.FindActiveByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			rotator.logger.Warn("refresh token not active", zap.String("code", "auth.rotate.not_active"), zap.String("user_id", claims.GetUserID()))
			rotator.metrics.Increment(MetricRefreshReused)
			return TokenPair{}, fmt.Errorf("auth.rotate.lookup: %w", ErrInvalidToken)
		}
		rotator.logger.Error("refresh token lookup failed", zap.String("code", "auth.rotate.store_error"), zap.String("user_id", claims.GetUserID()), zap.Error(err))
		rotator.metrics.Increment(MetricRefreshFailure)
		return TokenPair{}, fmt.Errorf("auth.rotate.lookup: %w", ErrStoreFailure)
	}
	if record.UserID != claims.GetUserID() {
		rotator.metrics.Increment(MetricRefreshInvalid)
		return TokenPair{}, fmt.Errorf("auth.rotate.subject_mismatch: %w", ErrInvalidToken)
	}

	if !record.ExpiresAt.After(rotator.clock.Now()) {
		if revokeErr := rotator.refreshTokens.MarkRevoked(ctx, record); revokeErr != nil && !isLostRevocation(revokeErr) {
			rotator.logger.Error("expired refresh token revoke failed", zap.String("code", "auth.rotate.expire_revoke"), zap.String("user_id", record.UserID), zap.Error(revokeErr))
			rotator.metrics.Increment(MetricRefreshFailure)
			return TokenPair{}, fmt.Errorf("auth.rotate.expire_revoke: %w", ErrStoreFailure)
		}
		rotator.metrics.Increment(MetricRefreshExpired)
		return TokenPair{}, fmt.Errorf("auth.rotate.expired: %w", ErrExpiredToken)
	}

	user, err := rotator.users.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			rotator.metrics.Increment(MetricRefreshInvalid)
			return TokenPair{}, fmt.Errorf("auth.rotate.user: %w", ErrInvalidToken)
		}
		rotator.logger.Error("user lookup failed", zap.String("code", "auth.rotate.user_store_error"), zap.String("user_id", record.UserID), zap.Error(err))
		rotator.metrics.Increment(MetricRefreshFailure)
		return TokenPair{}, fmt.Errorf("auth.rotate.user: %w", ErrStoreFailure)
	}

	pair, err := rotator.issuer.IssueTokens(ctx, user.Identity())
	if err != nil {
		rotator.metrics.Increment(MetricRefreshFailure)
		return TokenPair{}, fmt.Errorf("auth.rotate.issue: %w", err)
	}

	if err := rotator.refreshTokens.MarkRevoked(ctx, record); err != nil {
		rotator.discardIssued(ctx, pair, user.ID)
		if isLostRevocation(err) {
			rotator.logger.Warn("refresh token rotated concurrently", zap.String("code", "auth.rotate.lost_race"), zap.String("user_id", user.ID))
			rotator.metrics.Increment(MetricRefreshReused)
			return TokenPair{}, fmt.Errorf("auth.rotate.revoke: %w", ErrInvalidToken)
		}
		rotator.logger.Error("refresh token revoke failed", zap.String("code", "auth.rotate.revoke_error"), zap.String("user_id", user.ID), zap.Error(err))
		rotator.metrics.Increment(MetricRefreshFailure)
		return TokenPair{}, fmt.Errorf("auth.rotate.revoke: %w", ErrStoreFailure)
	}

	rotator.metrics.Increment(MetricRefreshSuccess)
	return pair, nil
}

// discardIssued revokes the record created for a pair that will not be handed out.
func (rotator *RefreshRotator) discardIssued(ctx context.Context, pair TokenPair, userID string) {
	issued, err := rotator.refreshTokens.FindActiveByToken(ctx, pair.RefreshToken)
	if err == nil {
		err = rotator.refreshTokens.MarkRevoked(ctx, issued)
	}
	if err != nil && !isLostRevocation(err) {
		rotator.logger.Error("discarding issued refresh token failed", zap.String("code", "auth.rotate.discard_error"), zap.String("user_id", userID), zap.Error(err))
	}
}

func isLostRevocation(err error) bool {
	return errors.Is(err, ErrRefreshTokenAlreadyRevoked) || errors.Is(err, ErrRefreshTokenNotFound)
}
