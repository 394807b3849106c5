package authkit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Defaults applied by Normalize when a field is left zero.
const (
	DefaultAccessTokenTTL    = 15 * time.Minute
	DefaultRefreshTokenTTL   = 7 * 24 * time.Hour
	DefaultPasswordHashCost  = 10
	DefaultTokenIssuer       = "shopauth"
	DefaultAccessCookieName  = "accessToken"
	DefaultRefreshCookieName = "refreshToken"
)

// ServerConfig configures token signing, TTLs, password hashing, and cookies.
type ServerConfig struct {
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	TokenIssuer        string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	TokenLeeway        time.Duration
	PasswordHashCost   int
	CookieDomain       string
	AccessCookieName   string
	RefreshCookieName  string
	SameSiteMode       http.SameSite
	AllowInsecureHTTP  bool
}

// Normalize validates the configuration and fills defaults.
// The refresh secret falls back to the access secret when unset.
func (configuration ServerConfig) Normalize() (ServerConfig, error) {
	if len(configuration.AccessTokenSecret) == 0 {
		return ServerConfig{}, fmt.Errorf("auth.config.missing_access_token_secret: %w", ErrConfiguration)
	}
	if len(configuration.RefreshTokenSecret) == 0 {
		configuration.RefreshTokenSecret = configuration.AccessTokenSecret
	}
	if strings.TrimSpace(configuration.TokenIssuer) == "" {
		configuration.TokenIssuer = DefaultTokenIssuer
	}

	switch {
	case configuration.AccessTokenTTL == 0:
		configuration.AccessTokenTTL = DefaultAccessTokenTTL
	case configuration.AccessTokenTTL < 0:
		return ServerConfig{}, fmt.Errorf("auth.config.invalid_access_token_ttl: %w", ErrConfiguration)
	}
	switch {
	case configuration.RefreshTokenTTL == 0:
		configuration.RefreshTokenTTL = DefaultRefreshTokenTTL
	case configuration.RefreshTokenTTL < 0:
		return ServerConfig{}, fmt.Errorf("auth.config.invalid_refresh_token_ttl: %w", ErrConfiguration)
	}
	if configuration.TokenLeeway < 0 {
		return ServerConfig{}, fmt.Errorf("auth.config.invalid_token_leeway: %w", ErrConfiguration)
	}

	if configuration.PasswordHashCost == 0 {
		configuration.PasswordHashCost = DefaultPasswordHashCost
	}
	if configuration.PasswordHashCost < bcrypt.MinCost || configuration.PasswordHashCost > bcrypt.MaxCost {
		return ServerConfig{}, fmt.Errorf("auth.config.invalid_password_hash_cost: %w", ErrConfiguration)
	}

	if strings.TrimSpace(configuration.AccessCookieName) == "" {
		configuration.AccessCookieName = DefaultAccessCookieName
	}
	if strings.TrimSpace(configuration.RefreshCookieName) == "" {
		configuration.RefreshCookieName = DefaultRefreshCookieName
	}
	if configuration.SameSiteMode == 0 {
		configuration.SameSiteMode = http.SameSiteStrictMode
	}
	return configuration, nil
}

// Validate reports the first configuration error Normalize would return.
func (configuration ServerConfig) Validate() error {
	_, err := configuration.Normalize()
	return err
}
