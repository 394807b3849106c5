package authkit

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/shopauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = sessionvalidator.DefaultContextKey

// NewAccessValidator builds the access token validator for configuration.
func NewAccessValidator(configuration ServerConfig) (*sessionvalidator.Validator, error) {
	normalized, err := configuration.Normalize()
	if err != nil {
		return nil, err
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: normalized.AccessTokenSecret,
		Issuer:     normalized.TokenIssuer,
		CookieName: normalized.AccessCookieName,
		TokenUse:   sessionvalidator.TokenUseAccess,
		Leeway:     normalized.TokenLeeway,
	})
	if err != nil {
		return nil, fmt.Errorf("auth.access_validator: %w", ErrConfiguration)
	}
	return validator, nil
}

// RequireSession validates the access token from the Authorization header or cookie and injects claims.
func RequireSession(validator *sessionvalidator.Validator) gin.HandlerFunc {
	return validator.GinMiddleware(claimsContextKey)
}

// RequireAdmin allows the request only when the stored user behind the session has RoleAdmin.
// The role claim in the token is ignored. Must run after RequireSession.
func RequireAdmin(users UserStore, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		claims, ok := claimsFromContext(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user, err := users.FindByID(contextGin.Request.Context(), claims.GetUserID())
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			logger.Error("admin role lookup failed", zap.String("code", "auth.require_admin.store_error"), zap.String("user_id", claims.GetUserID()), zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if user.Role != RoleAdmin {
			contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		contextGin.Next()
	}
}

func claimsFromContext(contextGin *gin.Context) (*TokenClaims, bool) {
	value, exists := contextGin.Get(claimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*TokenClaims)
	return claims, ok && claims != nil
}
