package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("database.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("database.empty_database_url")
	errSQLiteEmptyPath     = errors.New("database.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("database.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("database.unsupported_no_scheme")
)

// Database is a GORM connection with the users and refresh_tokens tables migrated.
type Database struct {
	db          *gorm.DB
	driverLabel string
}

// DatabaseOption adjusts OpenDatabase.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	skipRefreshTokens bool
}

// WithoutRefreshTokenTable leaves refresh_tokens to another owner, such as the goose
// migrations of the pgx store. RefreshTokens must not be used on such a Database.
func WithoutRefreshTokenTable() DatabaseOption {
	return func(options *databaseOptions) {
		options.skipRefreshTokens = true
	}
}

// OpenDatabase connects using a postgres:// or sqlite:// URL and migrates the tables.
func OpenDatabase(ctx context.Context, databaseURL string, options ...DatabaseOption) (*Database, error) {
	var settings databaseOptions
	for _, option := range options {
		option(&settings)
	}
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if openErr != nil {
		return nil, fmt.Errorf("database.open.%s: %w", driverLabel, openErr)
	}
	if driverLabel == "sqlite" {
		sqlDB, sqlErr := gormDB.DB()
		if sqlErr != nil {
			return nil, fmt.Errorf("database.open.%s: %w", driverLabel, sqlErr)
		}
		// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent rotation.
		sqlDB.SetMaxOpenConns(1)
	}
	models := []any{&userRow{}}
	if !settings.skipRefreshTokens {
		models = append(models, &refreshTokenRow{})
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(models...); migrateErr != nil {
		return nil, fmt.Errorf("database.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &Database{db: gormDB, driverLabel: driverLabel}, nil
}

// Driver exposes the selected database driver label.
func (database *Database) Driver() string {
	return database.driverLabel
}

// RefreshTokens returns a refresh token store sharing this connection.
func (database *Database) RefreshTokens() *DatabaseRefreshTokenStore {
	return &DatabaseRefreshTokenStore{db: database.db, driverLabel: database.driverLabel, clock: NewSystemClock()}
}

// Users returns a user store sharing this connection.
func (database *Database) Users() *DatabaseUserStore {
	return &DatabaseUserStore{db: database.db, driverLabel: database.driverLabel, clock: NewSystemClock()}
}

// Close releases the underlying connection pool.
func (database *Database) Close() error {
	sqlDB, err := database.db.DB()
	if err != nil {
		return fmt.Errorf("database.close.%s: %w", database.driverLabel, err)
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key")
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("database.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("database.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("database.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
