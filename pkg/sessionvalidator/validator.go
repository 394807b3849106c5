package sessionvalidator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Token use values carried in the token_use claim.
const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// Config configures the Validator.
type Config struct {
	SigningKey []byte
	Issuer     string
	CookieName string
	// TokenUse selects which token kind is accepted; empty means TokenUseAccess.
	TokenUse string
	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
	Clock  Clock
}

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "auth_claims"

// DefaultCookieName is used when Config.CookieName is empty.
const DefaultCookieName = "accessToken"

const bearerPrefix = "bearer "

// Sentinel errors exposed by the validator.
var (
	ErrMissingSigningKey = errors.New("session.validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.validator.missing_issuer")
	ErrMissingToken      = errors.New("session.validator.missing_token")
	ErrInvalidToken      = errors.New("session.validator.invalid_token")
	ErrInvalidIssuer     = errors.New("session.validator.invalid_issuer")
	ErrInvalidTokenUse   = errors.New("session.validator.invalid_token_use")
	ErrTokenExpired      = errors.New("session.validator.expired")
)

// Validator validates shopauth access and refresh tokens.
type Validator struct {
	signingKey    []byte
	cookieName    string
	tokenUse      string
	parserOptions []jwt.ParserOption
}

// Claims represent the payload shared by access and refresh tokens.
// The subject carries the user identifier.
type Claims struct {
	UserEmail string `json:"email"`
	UserRole  string `json:"role,omitempty"`
	TokenUse  string `json:"token_use"`
	jwt.RegisteredClaims
}

// GetUserID returns the user identifier from the subject claim.
func (claims *Claims) GetUserID() string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// GetUserEmail returns the email associated with the token.
func (claims *Claims) GetUserEmail() string {
	if claims == nil {
		return ""
	}
	return claims.UserEmail
}

// GetUserRole returns the role claim, which may be empty or stale.
func (claims *Claims) GetUserRole() string {
	if claims == nil {
		return ""
	}
	return claims.UserRole
}

// GetExpiresAt returns the expiry timestamp.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingIssuer)
	}
	cookieName := configuration.CookieName
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultCookieName
	}
	tokenUse := configuration.TokenUse
	if strings.TrimSpace(tokenUse) == "" {
		tokenUse = TokenUseAccess
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	leeway := configuration.Leeway
	if leeway < 0 {
		leeway = 0
	}
	return &Validator{
		signingKey: configuration.SigningKey,
		cookieName: cookieName,
		tokenUse:   tokenUse,
		parserOptions: []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(configuration.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
			jwt.WithTimeFunc(clock.Now),
		},
	}, nil
}

// ValidateToken verifies signature, issuer, expiry and token use, and returns the parsed claims.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, validationError(ErrMissingToken)
	}
	claims := &Claims{}
	_, parseErr := jwt.ParseWithClaims(tokenString, claims, validator.signingKeyFunc, validator.parserOptions...)
	switch {
	case parseErr == nil:
	case errors.Is(parseErr, jwt.ErrTokenExpired):
		return nil, validationError(ErrTokenExpired)
	case errors.Is(parseErr, jwt.ErrTokenInvalidIssuer):
		return nil, validationError(ErrInvalidIssuer)
	default:
		return nil, validationError(ErrInvalidToken)
	}
	if claims.TokenUse != validator.tokenUse {
		return nil, validationError(ErrInvalidTokenUse)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, validationError(ErrInvalidToken)
	}
	return claims, nil
}

func (validator *Validator) signingKeyFunc(*jwt.Token) (interface{}, error) {
	return validator.signingKey, nil
}

func validationError(err error) error {
	return fmt.Errorf("session.validator.validate_token: %w", err)
}

// ValidateRequest reads a bearer token, falling back to the configured cookie, and validates it.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingToken)
	}
	if token := bearerToken(request); token != "" {
		return validator.ValidateToken(token)
	}
	cookie, cookieErr := request.Cookie(validator.cookieName)
	if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingToken)
	}
	return validator.ValidateToken(cookie.Value)
}

// GinMiddleware returns a Gin middleware that validates the access token and injects claims.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}

func bearerToken(request *http.Request) string {
	header := strings.TrimSpace(request.Header.Get("Authorization"))
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
