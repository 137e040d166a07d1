package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all pipeline configuration loaded from environment variables.
// It is built once at startup and passed to each component.
type Config struct {
	DBDriver         string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	SQLitePath       string

	RawDir     string
	StagingDir string
	LogDir     string
	LogLevel   string

	SchemaFile       string
	StagingSchemaKey string
	RawSchemaKey     string
	StagingTable     string
	RawTable         string
	RawLanding       bool
	CommitPolicy     string

	ScrapeBaseURL  string
	ScrapeRegions  []string
	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	PagesToScrape  int
	ChromeBin      string

	ExtractEvery   time.Duration
	TransformEvery time.Duration
	LoadEvery      time.Duration
	HTTPAddr       string

	// malformed values seen by Load, reported by Validate
	envErrs []error
}

// Load reads the .env file (if any), populates a Config from the environment
// and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	env := &envReader{}
	cfg := &Config{
		DBDriver:         getEnv("DB_DRIVER", DriverPostgres),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "etl"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "iproperty"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/iproperty.db"),

		RawDir:     getEnv("RAW_DIR", "./data/raw"),
		StagingDir: getEnv("STAGING_DIR", "./data/staging"),
		LogDir:     getEnv("LOG_DIR", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		SchemaFile:       getEnv("SCHEMA_FILE", "./schemas/pgsql_iproperty.json"),
		StagingSchemaKey: getEnv("KEY_SCHEMA_STAGING", "staging_iproperty"),
		RawSchemaKey:     getEnv("KEY_SCHEMA_RAW", "raw_iproperty"),
		StagingTable:     getEnv("STAGING_TABLE", "staging_iproperty"),
		RawTable:         getEnv("RAW_TABLE", "raw_iproperty"),
		RawLanding:       env.bool("RAW_LANDING", false),
		CommitPolicy:     getEnv("LOAD_COMMIT_POLICY", "batch"),

		ScrapeBaseURL:  getEnv("SCRAPE_BASE_URL", "https://www.iproperty.com.my/sale/%s/all-residential/"),
		ScrapeRegions:  getEnvList("SCRAPE_REGIONS"),
		MaxConcurrency: env.int("MAX_CONCURRENCY", 2),
		RateLimitMs:    env.int("RATE_LIMIT_MS", 2000),
		MaxRetries:     env.int("MAX_RETRIES", 3),
		PagesToScrape:  env.int("PAGES_TO_SCRAPE", 5),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		ExtractEvery:   env.duration("SCHEDULE_EXTRACT", 12*time.Hour),
		TransformEvery: env.duration("SCHEDULE_TRANSFORM", 90*time.Minute),
		LoadEvery:      env.duration("SCHEDULE_LOAD", 95*time.Minute),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
	}
	cfg.envErrs = env.errs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	errs := append([]error{}, c.envErrs...)

	switch c.DBDriver {
	case DriverPostgres:
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			errs = append(errs, errors.New("POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required for the postgres driver"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
		if c.RawLanding {
			errs = append(errs, errors.New("RAW_LANDING requires the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not one of %s, %s", c.DBDriver, DriverPostgres, DriverSQLite))
	}

	for key, val := range map[string]string{
		"RAW_DIR":            c.RawDir,
		"STAGING_DIR":        c.StagingDir,
		"SCHEMA_FILE":        c.SchemaFile,
		"KEY_SCHEMA_STAGING": c.StagingSchemaKey,
		"STAGING_TABLE":      c.StagingTable,
	} {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if c.CommitPolicy != "row" && c.CommitPolicy != "batch" {
		errs = append(errs, fmt.Errorf("LOAD_COMMIT_POLICY %q must be row or batch", c.CommitPolicy))
	}
	if !strings.Contains(c.ScrapeBaseURL, "%s") {
		errs = append(errs, errors.New("SCRAPE_BASE_URL must contain a %s placeholder for the region"))
	}
	for key, val := range map[string]int{
		"MAX_CONCURRENCY": c.MaxConcurrency,
		"MAX_RETRIES":     c.MaxRetries,
		"PAGES_TO_SCRAPE": c.PagesToScrape,
	} {
		if val < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", key, val))
		}
	}
	if c.RateLimitMs < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MS must not be negative, got %d", c.RateLimitMs))
	}
	for key, val := range map[string]time.Duration{
		"SCHEDULE_EXTRACT":   c.ExtractEvery,
		"SCHEDULE_TRANSFORM": c.TransformEvery,
		"SCHEDULE_LOAD":      c.LoadEvery,
	} {
		if val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", key, val))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == DriverSQLite {
		return c.SQLitePath
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// PostgresURL returns the URL form used by pgx.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// envReader parses typed variables and collects the malformed ones.
type envReader struct {
	errs []error
}

func (e *envReader) int(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q is not an integer", key, val))
		return fallback
	}
	return n
}

func (e *envReader) bool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q is not a boolean", key, val))
		return fallback
	}
	return b
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q is not a duration", key, val))
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
