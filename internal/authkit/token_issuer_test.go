package authkit

import (
	"context"
	"errors"
	"testing"

	"github.com/tyemirov/shopauth/pkg/sessionvalidator"
	"go.uber.org/zap/zaptest"
)

func TestTokenIssuerPersistsRefreshRecordBeforeReturning(t *testing.T) {
	store := NewMemoryRefreshTokenStore()
	issuer, err := NewTokenIssuer(newTestServerConfig(), store, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("issuer error: %v", err)
	}
	identity := Identity{UserID: "user-1", Email: "user@example.com", Role: RoleCustomer}
	pair, err := issuer.IssueTokens(context.Background(), identity)
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	record, err := store.FindActiveByToken(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("expected refresh record to exist: %v", err)
	}
	if record.UserID != "user-1" || !record.ExpiresAt.Equal(pair.RefreshExpiresAt.UTC()) {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatalf("expected refresh token to outlive access token")
	}
}

func TestTokenIssuerSignsPairWithSeparateSecrets(t *testing.T) {
	configuration := newTestServerConfig()
	issuer, err := NewTokenIssuer(configuration, NewMemoryRefreshTokenStore(), nil, nil)
	if err != nil {
		t.Fatalf("issuer error: %v", err)
	}
	identity := Identity{UserID: "user-1", Email: "user@example.com", Role: RoleAdmin}
	pair, err := issuer.IssueTokens(context.Background(), identity)
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	accessValidator, err := NewAccessValidator(configuration)
	if err != nil {
		t.Fatalf("access validator error: %v", err)
	}
	refreshValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: configuration.RefreshTokenSecret,
		Issuer:     configuration.TokenIssuer,
		TokenUse:   sessionvalidator.TokenUseRefresh,
	})
	if err != nil {
		t.Fatalf("refresh validator error: %v", err)
	}

	accessClaims, err := accessValidator.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	refreshClaims, err := refreshValidator.ValidateToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh token invalid: %v", err)
	}
	for _, claims := range []*TokenClaims{accessClaims, refreshClaims} {
		if claims.GetUserID() != identity.UserID || claims.GetUserEmail() != identity.Email || claims.GetUserRole() != identity.Role {
			t.Fatalf("unexpected payload: %+v", claims)
		}
	}

	if _, err := accessValidator.ValidateToken(pair.RefreshToken); err == nil {
		t.Fatalf("refresh token must not pass as an access token")
	}
	if _, err := refreshValidator.ValidateToken(pair.AccessToken); err == nil {
		t.Fatalf("access token must not pass as a refresh token")
	}
}

func TestTokenIssuerStoreFailureReturnsNoTokens(t *testing.T) {
	store := &failingRefreshStore{RefreshTokenStore: NewMemoryRefreshTokenStore(), failCreate: true}
	issuer, err := NewTokenIssuer(newTestServerConfig(), store, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("issuer error: %v", err)
	}
	pair, err := issuer.IssueTokens(context.Background(), Identity{UserID: "user-1"})
	if !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("expected ErrStoreFailure, got %v", err)
	}
	if errors.Is(err, errForcedStoreFailure) {
		t.Fatalf("raw store error must not cross the issuer boundary")
	}
	if pair.AccessToken != "" || pair.RefreshToken != "" {
		t.Fatalf("expected no tokens on failure")
	}
}

func TestTokenIssuerRejectsIdentityWithoutUserID(t *testing.T) {
	store := &failingRefreshStore{RefreshTokenStore: NewMemoryRefreshTokenStore(), failCreate: true}
	issuer, err := NewTokenIssuer(newTestServerConfig(), store, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("issuer error: %v", err)
	}
	pair, err := issuer.IssueTokens(context.Background(), Identity{UserID: "  ", Email: "user@example.com"})
	if !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if IsUnauthorized(err) {
		t.Fatalf("identity errors must not be reported as unauthorized")
	}
	if pair.AccessToken != "" || pair.RefreshToken != "" {
		t.Fatalf("expected no tokens for an invalid identity")
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(ServerConfig{}, NewMemoryRefreshTokenStore(), nil, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
