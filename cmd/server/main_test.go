package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/shopauth/internal/authkit"
	"github.com/tyemirov/shopauth/internal/web"
	"go.uber.org/zap/zaptest"
)

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	httpMetrics, err := newRequestMetrics(registry)
	if err != nil {
		t.Fatalf("registering request metrics failed: %v", err)
	}

	router := gin.New()
	router.Use(zapLoggerMiddleware(zaptest.NewLogger(t), httpMetrics))
	router.GET("/ping/:id", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping/42", nil))
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	if value := testutil.ToFloat64(httpMetrics.requests.WithLabelValues(http.MethodGet, "/ping/:id", "204")); value != 1 {
		t.Fatalf("expected one request counted under the route template, got %v", value)
	}
	if value := testutil.ToFloat64(httpMetrics.errors.WithLabelValues(http.MethodGet, unmatchedRouteLabel, "404", "client")); value != 1 {
		t.Fatalf("expected unmatched 404 to count as a client error, got %v", value)
	}
	if count := testutil.CollectAndCount(httpMetrics.duration); count != 2 {
		t.Fatalf("expected two duration series, got %d", count)
	}
}

func TestZapLoggerMiddlewareWithoutMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(zapLoggerMiddleware(zaptest.NewLogger(t), nil))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestNewRequestMetricsRejectsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := newRequestMetrics(registry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := newRequestMetrics(registry); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestRunServerMissingConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	err := runServer(&cobra.Command{}, nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}

	expectedMessage := "config.uninitialized_server_config: server configuration not prepared; PreRunE must execute before RunE"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
	if !errors.Is(err, authkit.ErrConfiguration) {
		t.Fatalf("expected configuration error to unwrap to ErrConfiguration")
	}
}

func TestLoadServerConfigRejectsInvalidSettings(t *testing.T) {
	testCases := []struct {
		name            string
		settings        map[string]any
		expectedMessage string
	}{
		{
			name:            "missing access secret",
			settings:        map[string]any{},
			expectedMessage: "config.missing_access_token_secret: access_token_secret must be provided",
		},
		{
			name:            "non-positive access ttl",
			settings:        map[string]any{"access_token_secret": "secret", "access_token_ttl": 0},
			expectedMessage: "config.invalid_access_token_ttl: access_token_ttl must be greater than zero",
		},
		{
			name:            "non-positive refresh ttl",
			settings:        map[string]any{"access_token_secret": "secret", "refresh_token_ttl": -time.Hour},
			expectedMessage: "config.invalid_refresh_token_ttl: refresh_token_ttl must be greater than zero",
		},
		{
			name:            "negative leeway",
			settings:        map[string]any{"access_token_secret": "secret", "token_leeway": -time.Second},
			expectedMessage: "config.invalid_token_leeway: token_leeway must not be negative",
		},
		{
			name:            "hash cost out of range",
			settings:        map[string]any{"access_token_secret": "secret", "password_hash_cost": 99},
			expectedMessage: "config.invalid_password_hash_cost: password_hash_cost must be between 4 and 31",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			for key, value := range testCase.settings {
				viper.Set(key, value)
			}

			_, err := LoadServerConfig()
			if err == nil {
				t.Fatalf("expected configuration error")
			}
			if err.Error() != testCase.expectedMessage {
				t.Fatalf("expected error %q, got %q", testCase.expectedMessage, err.Error())
			}
			if !errors.Is(err, authkit.ErrConfiguration) {
				t.Fatalf("expected %v to unwrap to ErrConfiguration", err)
			}
		})
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("access_token_secret", "access-secret")
	viper.Set("cookie_domain", "shop.example.com")

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.AccessTokenTTL != authkit.DefaultAccessTokenTTL {
		t.Fatalf("expected default access ttl, got %s", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL != authkit.DefaultRefreshTokenTTL {
		t.Fatalf("expected default refresh ttl, got %s", config.RefreshTokenTTL)
	}
	if config.PasswordHashCost != authkit.DefaultPasswordHashCost {
		t.Fatalf("expected default hash cost, got %d", config.PasswordHashCost)
	}
	if string(config.RefreshTokenSecret) != "access-secret" {
		t.Fatalf("expected refresh secret to fall back to the access secret")
	}
	if config.TokenIssuer != authkit.DefaultTokenIssuer {
		t.Fatalf("expected default issuer, got %q", config.TokenIssuer)
	}
	if config.SameSiteMode != http.SameSiteStrictMode {
		t.Fatalf("expected strict same-site, got %v", config.SameSiteMode)
	}
	if config.CookieDomain != "shop.example.com" {
		t.Fatalf("unexpected cookie domain %q", config.CookieDomain)
	}
	if config.AllowInsecureHTTP {
		t.Fatalf("expected secure cookies by default")
	}
}

func TestLoadServerConfigUsesSameSiteNoneWithCORS(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("access_token_secret", "access-secret")
	viper.Set("refresh_token_secret", "refresh-secret")
	viper.Set("enable_cors", true)

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.SameSiteMode != http.SameSiteNoneMode {
		t.Fatalf("expected same-site none, got %v", config.SameSiteMode)
	}
	if string(config.RefreshTokenSecret) != "refresh-secret" {
		t.Fatalf("expected explicit refresh secret")
	}
}

func TestLoadServerConfigKeepsCookiesUsableInInsecureCORSMode(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("access_token_secret", "access-secret")
	viper.Set("enable_cors", true)
	viper.Set("dev_insecure_http", true)

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.SameSiteMode == http.SameSiteNoneMode {
		t.Fatalf("SameSite=None requires Secure cookies, which insecure dev mode does not set")
	}
	if config.SameSiteMode != http.SameSiteLaxMode {
		t.Fatalf("expected lax same-site, got %v", config.SameSiteMode)
	}
	if !config.AllowInsecureHTTP {
		t.Fatalf("expected insecure dev mode to be carried")
	}
}

func TestResolveRefreshStoreMode(t *testing.T) {
	testCases := []struct {
		name         string
		settings     storeSettings
		expectedMode string
		expectedCode string
	}{
		{name: "auto memory", settings: storeSettings{mode: refreshStoreAuto}, expectedMode: refreshStoreMemory},
		{name: "empty mode", settings: storeSettings{}, expectedMode: refreshStoreMemory},
		{name: "auto database", settings: storeSettings{mode: refreshStoreAuto, databaseURL: "sqlite:file:x"}, expectedMode: refreshStoreDatabase},
		{name: "auto prefers redis", settings: storeSettings{mode: refreshStoreAuto, databaseURL: "sqlite:file:x", redisURL: "redis://localhost:6379"}, expectedMode: refreshStoreRedis},
		{name: "explicit memory", settings: storeSettings{mode: refreshStoreMemory, redisURL: "redis://localhost:6379"}, expectedMode: refreshStoreMemory},
		{name: "postgres", settings: storeSettings{mode: refreshStorePostgres, databaseURL: "postgres://localhost/shop"}, expectedMode: refreshStorePostgres},
		{name: "database without url", settings: storeSettings{mode: refreshStoreDatabase}, expectedCode: configCodeMissingDatabaseURL},
		{name: "postgres without url", settings: storeSettings{mode: refreshStorePostgres}, expectedCode: configCodeMissingDatabaseURL},
		{name: "redis without url", settings: storeSettings{mode: refreshStoreRedis}, expectedCode: configCodeMissingRedisURL},
		{name: "unknown", settings: storeSettings{mode: "etcd"}, expectedCode: configCodeInvalidRefreshStore},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			mode, err := resolveRefreshStoreMode(testCase.settings)
			if testCase.expectedCode != "" {
				if err == nil || !strings.HasPrefix(err.Error(), testCase.expectedCode+":") {
					t.Fatalf("expected %s error, got %v", testCase.expectedCode, err)
				}
				if !errors.Is(err, authkit.ErrConfiguration) {
					t.Fatalf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mode != testCase.expectedMode {
				t.Fatalf("expected mode %s, got %s", testCase.expectedMode, mode)
			}
		})
	}
}

func TestOpenStoresInMemory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	stores, err := openStores(context.Background(), logger, storeSettings{mode: refreshStoreAuto})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stores.Close(logger)
	if _, ok := stores.users.(*web.InMemoryUsers); !ok {
		t.Fatalf("expected in-memory users, got %T", stores.users)
	}
	if _, ok := stores.refreshTokens.(*authkit.MemoryRefreshTokenStore); !ok {
		t.Fatalf("expected in-memory refresh store, got %T", stores.refreshTokens)
	}
}

func TestOpenStoresDatabase(t *testing.T) {
	logger := zaptest.NewLogger(t)
	stores, err := openStores(context.Background(), logger, storeSettings{
		mode:        refreshStoreAuto,
		databaseURL: "sqlite:file:open_stores_database?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stores.Close(logger)
	if _, ok := stores.users.(*authkit.DatabaseUserStore); !ok {
		t.Fatalf("expected database users, got %T", stores.users)
	}
	if _, ok := stores.refreshTokens.(*authkit.DatabaseRefreshTokenStore); !ok {
		t.Fatalf("expected database refresh store, got %T", stores.refreshTokens)
	}
}

func TestOpenStoresRedis(t *testing.T) {
	server := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	stores, err := openStores(context.Background(), logger, storeSettings{
		mode:     refreshStoreRedis,
		redisURL: "redis://" + server.Addr(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stores.Close(logger)
	if _, ok := stores.refreshTokens.(*authkit.RedisRefreshTokenStore); !ok {
		t.Fatalf("expected redis refresh store, got %T", stores.refreshTokens)
	}
	if _, err := stores.refreshTokens.CreateRecord(context.Background(), "token-value", "user-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("expected redis store to accept records, got %v", err)
	}
}

func TestOpenStoresReportsUnreachableRedis(t *testing.T) {
	logger := zaptest.NewLogger(t)
	if _, err := openStores(context.Background(), logger, storeSettings{mode: refreshStoreRedis, redisURL: "redis://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestRunServerServesAuthRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	var served bool
	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		if server.Handler == nil {
			t.Fatalf("expected handler to be configured")
		}
		served = true

		signup := httptest.NewRecorder()
		signupRequest := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{"email":"alice@example.com","password":"correct-horse","fullName":"Alice"}`))
		signupRequest.Header.Set("Content-Type", "application/json")
		server.Handler.ServeHTTP(signup, signupRequest)
		if signup.Code != http.StatusCreated {
			t.Fatalf("expected 201 from signup, got %d: %s", signup.Code, signup.Body.String())
		}

		health := httptest.NewRecorder()
		server.Handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if health.Code != http.StatusOK {
			t.Fatalf("expected 200 from healthz, got %d", health.Code)
		}

		metrics := httptest.NewRecorder()
		server.Handler.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		metricsBody := metrics.Body.String()
		if !strings.Contains(metricsBody, `auth_operations_total{operation="signup",status="success"} 1`) {
			t.Fatalf("expected signup counter in metrics output, got %q", metricsBody)
		}
		if !strings.Contains(metricsBody, `http_requests_total{method="POST",route="/auth/signup",status_code="201"} 1`) {
			t.Fatalf("expected signup request counter in metrics output, got %q", metricsBody)
		}
		return http.ErrServerClosed
	})
	defer restoreServe()

	viper.Set("listen_addr", ":0")
	viper.Set("access_token_secret", "signing-secret")
	viper.Set("password_hash_cost", 4)
	viper.Set("cookie_domain", "localhost")
	viper.Set("dev_insecure_http", true)
	viper.Set("database_url", "sqlite:file:run_server_routes?mode=memory&cache=shared")
	viper.Set("enable_cors", true)
	viper.Set("cors_allowed_origins", []string{"http://localhost:3000"})

	command := commandWithLoadedConfig(t)
	if err := runServer(command, nil); err != nil {
		t.Fatalf("expected runServer to succeed, got %v", err)
	}
	if !served {
		t.Fatalf("expected serveHTTP to be invoked")
	}
}

func TestRunServerInMemoryStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return http.ErrServerClosed
	})
	defer restoreServe()

	viper.Set("listen_addr", ":0")
	viper.Set("access_token_secret", "signing-secret")
	viper.Set("dev_insecure_http", true)

	command := commandWithLoadedConfig(t)
	if err := runServer(command, nil); err != nil {
		t.Fatalf("expected runServer to succeed with in-memory store, got %v", err)
	}
}

func TestRunServerRejectsInvalidCORSOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		t.Fatalf("server should not start with invalid CORS origins")
		return nil
	})
	defer restoreServe()

	viper.Set("access_token_secret", "signing-secret")
	viper.Set("enable_cors", true)
	viper.Set("cors_allowed_origins", []string{"http://localhost:3000"})

	command := commandWithLoadedConfig(t)
	if err := runServer(command, nil); err == nil {
		t.Fatalf("expected http origin to be rejected outside insecure dev mode")
	}
}

func TestRunServerPropagatesListenError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return errors.New("address in use")
	})
	defer restoreServe()

	viper.Set("access_token_secret", "signing-secret")

	command := commandWithLoadedConfig(t)
	err := runServer(command, nil)
	if err == nil || err.Error() != "listen error: address in use" {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestCreateUserCommandPersistsAdmin(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "shopauth.db")
	rootCommand := newRootCommand()
	var output bytes.Buffer
	rootCommand.SetOut(&output)
	rootCommand.SetArgs([]string{
		"create-user",
		"--access_token_secret", "signing-secret",
		"--password_hash_cost", "4",
		"--database_url", databaseURL,
		"--email", "root@example.com",
		"--password", "correct-horse",
		"--full_name", "Root",
	})
	if err := rootCommand.Execute(); err != nil {
		t.Fatalf("expected create-user to succeed, got %v", err)
	}
	userID := strings.TrimSpace(output.String())
	if userID == "" {
		t.Fatalf("expected created user id on stdout")
	}

	database, err := authkit.OpenDatabase(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("reopening database failed: %v", err)
	}
	defer func() { _ = database.Close() }()
	stored, err := database.Users().FindByEmail(context.Background(), "root@example.com")
	if err != nil {
		t.Fatalf("expected account to outlive the command, got %v", err)
	}
	if stored.ID != userID || stored.Role != authkit.RoleAdmin {
		t.Fatalf("unexpected stored account: %+v", stored)
	}
}

func TestCreateUserCommandRequiresDatabase(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	rootCommand := newRootCommand()
	rootCommand.SetOut(&bytes.Buffer{})
	rootCommand.SetErr(&bytes.Buffer{})
	rootCommand.SetArgs([]string{
		"create-user",
		"--access_token_secret", "signing-secret",
		"--email", "root@example.com",
		"--password", "correct-horse",
	})
	err := rootCommand.Execute()
	if err == nil || !strings.HasPrefix(err.Error(), configCodeMissingDatabaseURL+":") {
		t.Fatalf("expected %s error, got %v", configCodeMissingDatabaseURL, err)
	}
	if !errors.Is(err, authkit.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestCreateUserCommandRejectsUnknownRole(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	rootCommand := newRootCommand()
	rootCommand.SetOut(&bytes.Buffer{})
	rootCommand.SetErr(&bytes.Buffer{})
	rootCommand.SetArgs([]string{
		"create-user",
		"--access_token_secret", "signing-secret",
		"--password_hash_cost", "4",
		"--database_url", "sqlite:file:create_user_role?mode=memory&cache=shared",
		"--email", "root@example.com",
		"--password", "correct-horse",
		"--role", "superuser",
	})
	err := rootCommand.Execute()
	if !errors.Is(err, authkit.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

func commandWithLoadedConfig(t *testing.T) *cobra.Command {
	t.Helper()
	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, config))
	return command
}

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}
