package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Dependencies groups the collaborators of an AuthService.
type Dependencies struct {
	Users         UserStore
	RefreshTokens RefreshTokenStore
	Logger        *zap.Logger
	Metrics       MetricsRecorder
	Clock         Clock
}

// RegisterInput carries the fields of a new account. An empty Role means RoleCustomer.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Tokens TokenPair
	User   User
}

// AuthService orchestrates registration, login, rotation and revocation.
type AuthService struct {
	configuration ServerConfig
	users         UserStore
	hasher        *PasswordHasher
	issuer        *TokenIssuer
	rotator       *RefreshRotator
	revoker       *SessionRevoker
	logger        *zap.Logger
	metrics       MetricsRecorder
}

// NewAuthService validates configuration and wires the token lifecycle components.
func NewAuthService(configuration ServerConfig, dependencies Dependencies) (*AuthService, error) {
	normalized, err := configuration.Normalize()
	if err != nil {
		return nil, err
	}
	if dependencies.Users == nil {
		return nil, fmt.Errorf("auth.service.missing_user_store: %w", ErrConfiguration)
	}
	if dependencies.RefreshTokens == nil {
		return nil, fmt.Errorf("auth.service.missing_refresh_store: %w", ErrConfiguration)
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := dependencies.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = NewSystemClock()
	}

	hasher, err := NewPasswordHasher(normalized.PasswordHashCost)
	if err != nil {
		return nil, err
	}
	issuer, err := NewTokenIssuer(normalized, dependencies.RefreshTokens, clock, logger)
	if err != nil {
		return nil, err
	}
	rotator, err := NewRefreshRotator(normalized, RotatorDependencies{
		Issuer:        issuer,
		Users:         dependencies.Users,
		RefreshTokens: dependencies.RefreshTokens,
		Clock:         clock,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return nil, err
	}
	return &AuthService{
		configuration: normalized,
		users:         dependencies.Users,
		hasher:        hasher,
		issuer:        issuer,
		rotator:       rotator,
		revoker:       NewSessionRevoker(dependencies.RefreshTokens, logger),
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Config returns the normalized configuration the service was built with.
func (service *AuthService) Config() ServerConfig {
	return service.configuration
}

// Register creates an account and issues its first token pair.
func (service *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	email := normalizeEmail(input.Email)
	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = RoleCustomer
	}
	if role != RoleCustomer && role != RoleAdmin {
		service.metrics.Increment(MetricSignupFailure)
		return AuthResult{}, fmt.Errorf("auth.register.role: %w", ErrInvalidRole)
	}

	_, err := service.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		service.metrics.Increment(MetricSignupDuplicate)
		return AuthResult{}, fmt.Errorf("auth.register.lookup: %w", ErrDuplicateEmail)
	case !errors.Is(err, ErrUserNotFound):
		service.logger.Error("user lookup failed", zap.String("code", "auth.register.store_error"), zap.Error(err))
		service.metrics.Increment(MetricSignupFailure)
		return AuthResult{}, fmt.Errorf("auth.register.lookup: %w", ErrStoreFailure)
	}

	passwordHash, err := service.hasher.Hash(input.Password)
	if err != nil {
		service.logger.Error("password hash failed", zap.String("code", "auth.register.hash_error"), zap.Error(err))
		service.metrics.Increment(MetricSignupFailure)
		return AuthResult{}, fmt.Errorf("auth.register.hash: %w", ErrInvalidCredentials)
	}

	user, err := service.users.Create(ctx, NewUser{
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, ErrUserEmailTaken) {
			service.metrics.Increment(MetricSignupDuplicate)
			return AuthResult{}, fmt.Errorf("auth.register.create: %w", ErrDuplicateEmail)
		}
		service.logger.Error("user create failed", zap.String("code", "auth.register.create_error"), zap.Error(err))
		service.metrics.Increment(MetricSignupFailure)
		return AuthResult{}, fmt.Errorf("auth.register.create: %w", ErrStoreFailure)
	}

	tokens, err := service.issuer.IssueTokens(ctx, user.Identity())
	if err != nil {
		service.metrics.Increment(MetricSignupFailure)
		return AuthResult{}, fmt.Errorf("auth.register.issue: %w", err)
	}
	service.metrics.Increment(MetricSignupSuccess)
	return AuthResult{Tokens: tokens, User: user}, nil
}

// Login verifies credentials and issues a token pair. Unknown email and wrong password
// are indistinguishable to the caller.
func (service *AuthService) Login(ctx context.Context, email string, password string) (AuthResult, error) {
	user, err := service.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			service.hasher.VerifyAbsent(password)
			service.metrics.Increment(MetricLoginInvalid)
			return AuthResult{}, fmt.Errorf("auth.login: %w", ErrInvalidCredentials)
		}
		service.logger.Error("user lookup failed", zap.String("code", "auth.login.store_error"), zap.Error(err))
		service.metrics.Increment(MetricLoginFailure)
		return AuthResult{}, fmt.Errorf("auth.login.lookup: %w", ErrStoreFailure)
	}
	if !service.hasher.Verify(password, user.PasswordHash) {
		service.metrics.Increment(MetricLoginInvalid)
		return AuthResult{}, fmt.Errorf("auth.login: %w", ErrInvalidCredentials)
	}

	tokens, err := service.issuer.IssueTokens(ctx, user.Identity())
	if err != nil {
		service.metrics.Increment(MetricLoginFailure)
		return AuthResult{}, fmt.Errorf("auth.login.issue: %w", err)
	}
	service.metrics.Increment(MetricLoginSuccess)
	return AuthResult{Tokens: tokens, User: user}, nil
}

// IssueTokensForUser issues a pair for a caller that has already authenticated the user.
func (service *AuthService) IssueTokensForUser(ctx context.Context, identity Identity) (TokenPair, error) {
	return service.issuer.IssueTokens(ctx, identity)
}

// Rotate exchanges a refresh token for a new pair.
func (service *AuthService) Rotate(ctx context.Context, refreshToken string) (TokenPair, error) {
	return service.rotator.Rotate(ctx, refreshToken)
}

// RevokeAll signs userID out of every session.
func (service *AuthService) RevokeAll(ctx context.Context, userID string) error {
	if err := service.revoker.RevokeAll(ctx, userID); err != nil {
		service.metrics.Increment(MetricLogoutFailure)
		return err
	}
	service.metrics.Increment(MetricLogoutSuccess)
	return nil
}

// Profile returns the stored user for userID.
func (service *AuthService) Profile(ctx context.Context, userID string) (User, error) {
	user, err := service.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, fmt.Errorf("auth.profile: %w", ErrInvalidToken)
		}
		service.logger.Error("user lookup failed", zap.String("code", "auth.profile.store_error"), zap.String("user_id", userID), zap.Error(err))
		return User{}, fmt.Errorf("auth.profile: %w", ErrStoreFailure)
	}
	return user, nil
}
