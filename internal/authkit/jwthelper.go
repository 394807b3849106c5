package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tyemirov/shopauth/pkg/sessionvalidator"
)

const notBeforeSkew = 30 * time.Second

var errEmptySubject = errors.New("subject must be non-empty")

// Identity is the payload carried by every access and refresh token.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// TokenClaims are the claims embedded in access and refresh tokens.
type TokenClaims = sessionvalidator.Claims

// MintToken creates a signed HS256 token of the given use for identity.
// Each token gets a fresh jti so tokens minted within the same second stay distinct.
func MintToken(clock Clock, identity Identity, tokenUse string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errEmptySubject)
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserEmail: identity.Email,
		UserRole:  identity.Role,
		TokenUse:  tokenUse,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-notBeforeSkew)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", err)
	}
	return signed, expiresAt, nil
}

// TokenSigner mints tokens of one use with a fixed key, issuer and TTL.
type TokenSigner struct {
	clock      Clock
	tokenUse   string
	issuer     string
	signingKey []byte
	ttl        time.Duration
}

// NewTokenSigner constructs a signer for tokenUse.
func NewTokenSigner(clock Clock, tokenUse string, issuer string, signingKey []byte, ttl time.Duration) *TokenSigner {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &TokenSigner{clock: clock, tokenUse: tokenUse, issuer: issuer, signingKey: signingKey, ttl: ttl}
}

// Sign mints a token for identity and reports its expiry.
func (signer *TokenSigner) Sign(identity Identity) (string, time.Time, error) {
	return MintToken(signer.clock, identity, signer.tokenUse, signer.issuer, signer.signingKey, signer.ttl)
}
