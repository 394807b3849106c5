package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/tyemirov/shopauth/internal/authkit"
	"github.com/tyemirov/shopauth/internal/authkitpg"
	"github.com/tyemirov/shopauth/internal/web"
	"go.uber.org/zap"
)

const (
	refreshStoreAuto     = "auto"
	refreshStoreMemory   = "memory"
	refreshStoreDatabase = "database"
	refreshStorePostgres = "postgres"
	refreshStoreRedis    = "redis"

	redisKeyPrefix = "shopauth"
)

type storeSettings struct {
	mode        string
	databaseURL string
	redisURL    string
}

type storeBundle struct {
	users         authkit.UserStore
	refreshTokens authkit.RefreshTokenStore
	closers       []func() error
}

// Close releases every connection opened by openStores.
func (bundle storeBundle) Close(logger *zap.Logger) {
	for index := len(bundle.closers) - 1; index >= 0; index-- {
		if err := bundle.closers[index](); err != nil {
			logger.Warn("store close failed", zap.String("code", "server.stores.close"), zap.Error(err))
		}
	}
}

func loadStoreSettings() storeSettings {
	return storeSettings{
		mode:        strings.ToLower(strings.TrimSpace(viper.GetString("refresh_store"))),
		databaseURL: strings.TrimSpace(viper.GetString("database_url")),
		redisURL:    strings.TrimSpace(viper.GetString("redis_url")),
	}
}

func resolveRefreshStoreMode(settings storeSettings) (string, error) {
	switch settings.mode {
	case "", refreshStoreAuto:
		switch {
		case settings.redisURL != "":
			return refreshStoreRedis, nil
		case settings.databaseURL != "":
			return refreshStoreDatabase, nil
		default:
			return refreshStoreMemory, nil
		}
	case refreshStoreMemory:
		return refreshStoreMemory, nil
	case refreshStoreDatabase, refreshStorePostgres:
		if settings.databaseURL == "" {
			return "", configError(configCodeMissingDatabaseURL, fmt.Sprintf("database_url must be provided for refresh_store=%s", settings.mode))
		}
		return settings.mode, nil
	case refreshStoreRedis:
		if settings.redisURL == "" {
			return "", configError(configCodeMissingRedisURL, "redis_url must be provided for refresh_store=redis")
		}
		return refreshStoreRedis, nil
	default:
		return "", configError(configCodeInvalidRefreshStore, fmt.Sprintf("unsupported refresh_store %q", settings.mode))
	}
}

// openStores builds the user and refresh token stores. Users live in the GORM database when
// database_url is set and in memory otherwise.
func openStores(ctx context.Context, logger *zap.Logger, settings storeSettings) (storeBundle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	mode, err := resolveRefreshStoreMode(settings)
	if err != nil {
		return storeBundle{}, err
	}

	var bundle storeBundle
	fail := func(err error) (storeBundle, error) {
		bundle.Close(logger)
		return storeBundle{}, err
	}

	var database *authkit.Database
	if settings.databaseURL != "" {
		var databaseOptions []authkit.DatabaseOption
		if mode == refreshStorePostgres {
			databaseOptions = append(databaseOptions, authkit.WithoutRefreshTokenTable())
		}
		database, err = authkit.OpenDatabase(ctx, settings.databaseURL, databaseOptions...)
		if err != nil {
			return fail(err)
		}
		bundle.closers = append(bundle.closers, database.Close)
		bundle.users = database.Users()
		logger.Info("using persistent user store", zap.String("driver", database.Driver()))
	} else {
		bundle.users = web.NewInMemoryUsers()
		logger.Info("using in-memory user store")
	}

	switch mode {
	case refreshStoreMemory:
		bundle.refreshTokens = authkit.NewMemoryRefreshTokenStore()
	case refreshStoreDatabase:
		bundle.refreshTokens = database.RefreshTokens()
	case refreshStorePostgres:
		pool, poolErr := authkitpg.BuildPool(ctx, settings.databaseURL)
		if poolErr != nil {
			return fail(poolErr)
		}
		bundle.closers = append(bundle.closers, func() error {
			pool.Close()
			return nil
		})
		if migrateErr := authkitpg.MigratePool(ctx, pool); migrateErr != nil {
			return fail(migrateErr)
		}
		bundle.refreshTokens = authkitpg.NewPostgresRefreshTokenStore(pool)
	case refreshStoreRedis:
		client, redisErr := authkit.OpenRedisClient(ctx, settings.redisURL)
		if redisErr != nil {
			return fail(redisErr)
		}
		bundle.closers = append(bundle.closers, client.Close)
		bundle.refreshTokens = authkit.NewRedisRefreshTokenStore(client, redisKeyPrefix)
	}
	logger.Info("using refresh token store", zap.String("store", mode))
	return bundle, nil
}
