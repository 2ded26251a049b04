package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gdp_atlas_go/config"
	"gdp_atlas_go/models"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteParams are appended to every file-based SQLite DSN:
// WAL lets readers proceed while a write transaction is in flight, foreign keys are off
// by default in SQLite, and immediate transactions take the write lock up front so the
// busy timeout applies instead of failing on lock upgrade.
const sqliteParams = "_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"

// Open connects to the database selected by cfg.DBDriver.
// The returned handle is meant to be passed explicitly to stores and services.
func Open(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite, "":
		if err := ensureDir(cfg.DBPath); err != nil {
			return nil, err
		}
		return OpenSQLite(cfg.DBPath, cfg.Environment)
	case config.DriverLibSQL:
		dsn := cfg.TursoDatabaseURL
		if cfg.TursoAuthToken != "" {
			dsn += joinParams(dsn, "authToken="+cfg.TursoAuthToken)
		}
		database, err := open(sqlite.New(sqlite.Config{DriverName: "libsql", DSN: dsn}), cfg.Environment)
		if err != nil {
			return nil, err
		}
		if err := enableForeignKeys(database); err != nil {
			Close(database)
			return nil, err
		}
		return database, nil
	case config.DriverPostgres:
		database, err := open(postgres.Open(cfg.DatabaseURL), cfg.Environment)
		if err != nil {
			return nil, err
		}

		// Connection pool configuration
		sqlDB, err := database.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
		return database, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

// OpenSQLite opens a SQLite database at path, which may be a plain file path or a
// "file:" URI such as an in-memory database.
func OpenSQLite(path string, environment string) (*gorm.DB, error) {
	return open(sqlite.Open(path+joinParams(path, sqliteParams)), environment)
}

func open(dialector gorm.Dialector, environment string) (*gorm.DB, error) {
	// Determine log level based on environment
	logLevel := logger.Info
	switch environment {
	case "production":
		logLevel = logger.Warn
	case "test":
		logLevel = logger.Silent
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return database, nil
}

// Migrate creates or updates the schema for every model the service owns
func Migrate(database *gorm.DB) error {
	err := database.AutoMigrate(
		&models.Country{},
		&models.DataEntry{},
		&models.ImportRun{},
		&models.DatasetExport{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	return sqlDB.Close()
}

// enableForeignKeys turns on foreign key enforcement for drivers that take no DSN
// pragmas. The pragma is per connection, so the pool is pinned to one connection.
func enableForeignKeys(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := database.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

func joinParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return "&" + params
	}
	return "?" + params
}

func ensureDir(path string) error {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}
