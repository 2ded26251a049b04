package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverLibSQL   = "libsql"
	DriverPostgres = "postgres"
)

type Config struct {
	ServerPort  string
	Environment string
	// Database
	DBDriver         string
	DBPath           string
	DatabaseURL      string // Postgres DSN
	TursoDatabaseURL string
	TursoAuthToken   string
	// Bootstrap
	CountriesFile string
	SeedCountries bool
	// Dataset exports
	ExportDir      string
	ExportSchedule string // cron spec, empty disables scheduled snapshots
	ExportKeep     int    // snapshots kept by the scheduler
	// API
	WriteTokenHash    string // bcrypt hash of the bearer token required on write routes
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   int // seconds
	// Cloudflare R2 Storage
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
}

func Load() *Config {
	// Load .env file (ignore error if not present - use system env vars)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DBPath:            getEnv("DB_PATH", "db/data.db"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		TursoDatabaseURL:  getEnv("TURSO_DATABASE_URL", ""),
		TursoAuthToken:    getEnv("TURSO_AUTH_TOKEN", ""),
		CountriesFile:     getEnv("COUNTRIES_FILE", "data/countries.json"),
		SeedCountries:     getEnvBool("SEED_COUNTRIES", true),
		ExportDir:         getEnv("EXPORT_DIR", "static/exports"),
		ExportSchedule:    getEnv("EXPORT_SCHEDULE", ""),
		ExportKeep:        getEnvInt("EXPORT_KEEP", 7),
		WriteTokenHash:    getEnv("WRITE_TOKEN_HASH", ""),
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),
	}
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks settings that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the %s driver", c.DBDriver)
		}
	case DriverLibSQL:
		if c.TursoDatabaseURL == "" {
			return fmt.Errorf("TURSO_DATABASE_URL is required for the %s driver", c.DBDriver)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s driver", c.DBDriver)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}

	return ValidateWriteTokenHash(c.WriteTokenHash, c.Environment)
}

// ValidateWriteTokenHash requires a bcrypt hash for the write token in production.
// Outside production an empty hash leaves write routes open.
func ValidateWriteTokenHash(hash string, environment string) error {
	if hash == "" {
		if environment == "production" {
			return fmt.Errorf("WRITE_TOKEN_HASH must be set in production (generate one with cmd/hash-token)")
		}
		log.Printf("[WARNING] WRITE_TOKEN_HASH is not set. Write routes are unauthenticated; acceptable only in development.")
		return nil
	}

	// bcrypt hashes are "$2a$", "$2b$" or "$2y$" prefixed
	if !strings.HasPrefix(hash, "$2") {
		return fmt.Errorf("WRITE_TOKEN_HASH does not look like a bcrypt hash")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[WARNING] Invalid %s value %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept common boolean representations
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}
