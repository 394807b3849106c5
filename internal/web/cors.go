package web

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("cors: wildcard origin not allowed when credentials are enabled")
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
	errInsecureOrigin      = errors.New("cors: http origin requires dev_insecure_http")
)

// ConfigureCORS enables credentialed cross-origin requests for the supplied origins.
// Plain http origins are accepted only when allowInsecureHTTP is set, matching the
// cookies, which are only marked Secure outside of insecure dev mode.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string, allowInsecureHTTP bool) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins, err := normalizeOrigins(logger, allowedOrigins, allowInsecureHTTP)
	if err != nil {
		return nil, err
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}), nil
}

func normalizeOrigins(logger *zap.Logger, allowed []string, allowInsecureHTTP bool) ([]string, error) {
	unique := make(map[string]struct{}, len(allowed))
	for _, raw := range allowed {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		origin, err := normalizeOrigin(trimmed, allowInsecureHTTP)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(origin, "http://") && !isDevelopmentHost(origin) {
			logger.Warn("insecure cors origin configured",
				zap.String("code", "cors.origin.insecure"),
				zap.String("origin", origin))
		}
		unique[origin] = struct{}{}
	}
	if len(unique) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	origins := make([]string, 0, len(unique))
	for origin := range unique {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins, nil
}

// normalizeOrigin reduces an origin to lowercase scheme://host[:port].
func normalizeOrigin(origin string, allowInsecureHTTP bool) (string, error) {
	if origin == "*" {
		return "", errWildcardOrigin
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", errInvalidOrigin, origin)
	}
	if (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" || parsed.Fragment != "" || parsed.User != nil {
		return "", fmt.Errorf("%w: %s must not carry a path, query, fragment or credentials", errInvalidOrigin, origin)
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "https":
	case "http":
		if !allowInsecureHTTP {
			return "", fmt.Errorf("%w: %s", errInsecureOrigin, origin)
		}
	default:
		return "", fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, origin)
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), nil
}

func isDevelopmentHost(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
