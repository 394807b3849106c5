package authkit

import (
	"context"
	"regexp"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var sqliteNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9]+`)

// newTestDatabase opens a private in-memory SQLite database for the calling test.
func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	name := sqliteNameSanitizer.ReplaceAllString(t.Name(), "_") + "_" + uuid.NewString()[:8]
	database, err := OpenDatabase(context.Background(), "sqlite:file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

func newTestRedisStore(t *testing.T) (*RedisRefreshTokenStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisRefreshTokenStore(client, "test"), server
}

type refreshStoreFactory struct {
	name  string
	build func(t *testing.T) RefreshTokenStore
}

func refreshStoreFactories() []refreshStoreFactory {
	return []refreshStoreFactory{
		{
			name: "memory",
			build: func(t *testing.T) RefreshTokenStore {
				t.Helper()
				return NewMemoryRefreshTokenStore()
			},
		},
		{
			name: "sqlite",
			build: func(t *testing.T) RefreshTokenStore {
				t.Helper()
				return newTestDatabase(t).RefreshTokens()
			},
		},
		{
			name: "redis",
			build: func(t *testing.T) RefreshTokenStore {
				t.Helper()
				store, _ := newTestRedisStore(t)
				return store
			},
		},
	}
}
