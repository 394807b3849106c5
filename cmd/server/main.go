package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/shopauth/internal/authkit"
	"github.com/tyemirov/shopauth/internal/web"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "shopauth",
		Short:   "Auth service with password login, JWT sessions, and rotating refresh tokens",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("access_token_secret", "", "HS256 signing secret for access tokens")
	flags.Duration("access_token_ttl", authkit.DefaultAccessTokenTTL, "Access token TTL")
	flags.String("refresh_token_secret", "", "HS256 signing secret for refresh tokens; defaults to the access secret")
	flags.Duration("refresh_token_ttl", authkit.DefaultRefreshTokenTTL, "Refresh token TTL")
	flags.Int("password_hash_cost", authkit.DefaultPasswordHashCost, "bcrypt cost for password hashes")
	flags.Duration("token_leeway", 0, "Clock skew tolerated when verifying tokens")
	flags.String("token_issuer", authkit.DefaultTokenIssuer, "Issuer claim for minted tokens")
	flags.String("listen_addr", ":8080", "HTTP listen address")
	flags.String("cookie_domain", "", "Cookie domain; empty for host-only")
	flags.Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	flags.String("database_url", "", "Database URL for users and refresh tokens (postgres:// or sqlite://; leave empty for in-memory stores)")
	flags.String("redis_url", "", "Redis URL for refresh tokens (redis://)")
	flags.String("refresh_store", refreshStoreAuto, "Refresh token store: auto, memory, database, postgres, or redis")
	flags.Bool("enable_cors", false, "Enable CORS for cross-origin clients (required to set SameSite=None cookies)")
	flags.StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	for _, name := range []string{
		"access_token_secret",
		"access_token_ttl",
		"refresh_token_secret",
		"refresh_token_ttl",
		"password_hash_cost",
		"token_leeway",
		"token_issuer",
		"listen_addr",
		"cookie_domain",
		"dev_insecure_http",
		"database_url",
		"redis_url",
		"refresh_store",
		"enable_cors",
		"cors_allowed_origins",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newCreateUserCommand())
	return rootCmd
}

const (
	configCodeMissingAccessSecret     = "config.missing_access_token_secret"
	configCodeInvalidAccessTTL        = "config.invalid_access_token_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_token_ttl"
	configCodeInvalidTokenLeeway      = "config.invalid_token_leeway"
	configCodeInvalidHashCost         = "config.invalid_password_hash_cost"
	configCodeInvalidRefreshStore     = "config.invalid_refresh_store"
	configCodeMissingDatabaseURL      = "config.missing_database_url"
	configCodeMissingRedisURL         = "config.missing_redis_url"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// configurationError carries a config.* code and unwraps to authkit.ErrConfiguration.
type configurationError struct {
	code    string
	message string
}

func (err configurationError) Error() string {
	return fmt.Sprintf("%s: %s", err.code, err.message)
}

func (err configurationError) Unwrap() error {
	return authkit.ErrConfiguration
}

func configError(code, message string) error {
	return configurationError{code: code, message: message}
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func serverConfigFromCommand(command *cobra.Command) (authkit.ServerConfig, error) {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return authkit.ServerConfig{}, configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}
	return serverConfig, nil
}

// LoadServerConfig reads the token and cookie settings from viper and normalizes them.
func LoadServerConfig() (authkit.ServerConfig, error) {
	accessSecret := viper.GetString("access_token_secret")
	if accessSecret == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingAccessSecret, "access_token_secret must be provided")
	}

	accessTTL := authkit.DefaultAccessTokenTTL
	if viper.IsSet("access_token_ttl") {
		accessTTL = viper.GetDuration("access_token_ttl")
	}
	if accessTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_token_ttl must be greater than zero")
	}

	refreshTTL := authkit.DefaultRefreshTokenTTL
	if viper.IsSet("refresh_token_ttl") {
		refreshTTL = viper.GetDuration("refresh_token_ttl")
	}
	if refreshTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_token_ttl must be greater than zero")
	}

	leeway := viper.GetDuration("token_leeway")
	if leeway < 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidTokenLeeway, "token_leeway must not be negative")
	}

	hashCost := authkit.DefaultPasswordHashCost
	if viper.IsSet("password_hash_cost") {
		hashCost = viper.GetInt("password_hash_cost")
	}
	if hashCost < bcrypt.MinCost || hashCost > bcrypt.MaxCost {
		return authkit.ServerConfig{}, configError(configCodeInvalidHashCost, fmt.Sprintf("password_hash_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}

	allowInsecureHTTP := viper.GetBool("dev_insecure_http")
	sameSite := http.SameSiteStrictMode
	if viper.GetBool("enable_cors") {
		// Browsers drop SameSite=None cookies that are not Secure; insecure dev mode
		// serves same-site origins such as localhost ports instead.
		sameSite = http.SameSiteNoneMode
		if allowInsecureHTTP {
			sameSite = http.SameSiteLaxMode
		}
	}

	serverConfig := authkit.ServerConfig{
		AccessTokenSecret:  []byte(accessSecret),
		RefreshTokenSecret: []byte(viper.GetString("refresh_token_secret")),
		TokenIssuer:        viper.GetString("token_issuer"),
		AccessTokenTTL:     accessTTL,
		RefreshTokenTTL:    refreshTTL,
		TokenLeeway:        leeway,
		PasswordHashCost:   hashCost,
		CookieDomain:       viper.GetString("cookie_domain"),
		SameSiteMode:       sameSite,
		AllowInsecureHTTP:  allowInsecureHTTP,
	}
	return serverConfig.Normalize()
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	serverConfig, configErr := serverConfigFromCommand(command)
	if configErr != nil {
		return configErr
	}

	listenAddr := viper.GetString("listen_addr")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	metricsRecorder := authkit.NewCounterMetrics()
	httpMetrics, metricsErr := newRequestMetrics(metricsRecorder.Registry())
	if metricsErr != nil {
		return metricsErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger, httpMetrics))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins, serverConfig.AllowInsecureHTTP)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	stores, storesErr := openStores(command.Context(), logger, loadStoreSettings())
	if storesErr != nil {
		return storesErr
	}
	defer stores.Close(logger)

	service, serviceErr := authkit.NewAuthService(serverConfig, authkit.Dependencies{
		Users:         stores.users,
		RefreshTokens: stores.refreshTokens,
		Logger:        logger,
		Metrics:       metricsRecorder,
	})
	if serviceErr != nil {
		return serviceErr
	}
	if mountErr := authkit.MountAuthRoutes(router, service, stores.users, logger); mountErr != nil {
		return mountErr
	}
	router.GET("/metrics", gin.WrapH(metricsRecorder.Handler()))
	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger, httpMetrics *requestMetrics) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		httpMetrics.observe(contextGin, duration)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
