package authkit

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const refreshCookiePath = "/auth"

// MountAuthRoutes registers the /auth endpoints and the admin forced sign-out endpoint.
func MountAuthRoutes(router gin.IRouter, service *AuthService, users UserStore, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	configuration := service.Config()
	validator, err := NewAccessValidator(configuration)
	if err != nil {
		return err
	}
	requireSession := RequireSession(validator)

	router.POST("/auth/signup", func(contextGin *gin.Context) {
		var inbound signupRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		result, err := service.Register(contextGin.Request.Context(), RegisterInput{
			Email:       inbound.Email,
			Password:    inbound.Password,
			DisplayName: inbound.FullName,
			Role:        RoleCustomer,
		})
		if err != nil {
			writeServiceError(contextGin, logger, "auth.http.signup", err)
			return
		}
		writeTokenCookies(contextGin, configuration, result.Tokens)
		contextGin.JSON(http.StatusCreated, gin.H{"user": newUserResponse(result.User)})
	})

	router.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound loginRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		result, err := service.Login(contextGin.Request.Context(), inbound.Email, inbound.Password)
		if err != nil {
			writeServiceError(contextGin, logger, "auth.http.login", err)
			return
		}
		writeTokenCookies(contextGin, configuration, result.Tokens)
		contextGin.JSON(http.StatusOK, gin.H{"user": newUserResponse(result.User)})
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		refreshCookie, cookieErr := contextGin.Request.Cookie(configuration.RefreshCookieName)
		if cookieErr != nil || refreshCookie == nil || strings.TrimSpace(refreshCookie.Value) == "" {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		tokens, err := service.Rotate(contextGin.Request.Context(), refreshCookie.Value)
		if err != nil {
			writeServiceError(contextGin, logger, "auth.http.refresh", err)
			return
		}
		writeTokenCookies(contextGin, configuration, tokens)
		contextGin.JSON(http.StatusOK, gin.H{"message": "tokens refreshed"})
	})

	router.POST("/auth/logout", requireSession, func(contextGin *gin.Context) {
		claims, _ := claimsFromContext(contextGin)
		if err := service.RevokeAll(contextGin.Request.Context(), claims.GetUserID()); err != nil {
			writeServiceError(contextGin, logger, "auth.http.logout", err)
			return
		}
		clearCookie(contextGin, configuration, configuration.AccessCookieName, "/")
		clearCookie(contextGin, configuration, configuration.RefreshCookieName, refreshCookiePath)
		contextGin.JSON(http.StatusOK, gin.H{"message": "logged out"})
	})

	router.GET("/auth/me", requireSession, func(contextGin *gin.Context) {
		claims, _ := claimsFromContext(contextGin)
		contextGin.JSON(http.StatusOK, gin.H{
			"id":      claims.GetUserID(),
			"email":   claims.GetUserEmail(),
			"role":    claims.GetUserRole(),
			"expires": claims.GetExpiresAt(),
		})
	})

	router.GET("/auth/profile", requireSession, func(contextGin *gin.Context) {
		claims, _ := claimsFromContext(contextGin)
		user, err := service.Profile(contextGin.Request.Context(), claims.GetUserID())
		if err != nil {
			writeServiceError(contextGin, logger, "auth.http.profile", err)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
	})

	router.DELETE("/admin/users/:id/sessions", requireSession, RequireAdmin(users, logger), func(contextGin *gin.Context) {
		targetUserID := strings.TrimSpace(contextGin.Param("id"))
		if targetUserID == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if err := service.RevokeAll(contextGin.Request.Context(), targetUserID); err != nil {
			writeServiceError(contextGin, logger, "auth.http.admin_revoke", err)
			return
		}
		contextGin.Status(http.StatusNoContent)
	})
	return nil
}

func writeServiceError(contextGin *gin.Context, logger *zap.Logger, operation string, err error) {
	switch {
	case IsUnauthorized(err):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, ErrInvalidCredentials):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, ErrDuplicateEmail):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "email_taken"})
	case errors.Is(err, ErrInvalidRole):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
	default:
		logger.Error("request failed", zap.String("code", operation), zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func writeTokenCookies(contextGin *gin.Context, configuration ServerConfig, tokens TokenPair) {
	writeCookie(contextGin, configuration, configuration.AccessCookieName, tokens.AccessToken, "/", tokens.AccessExpiresAt, configuration.AccessTokenTTL)
	writeCookie(contextGin, configuration, configuration.RefreshCookieName, tokens.RefreshToken, refreshCookiePath, tokens.RefreshExpiresAt, configuration.RefreshTokenTTL)
}

func writeCookie(contextGin *gin.Context, configuration ServerConfig, name string, value string, path string, expiresAt time.Time, maxAge time.Duration) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		MaxAge:   int(maxAge.Seconds()),
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func clearCookie(contextGin *gin.Context, configuration ServerConfig, name string, path string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
