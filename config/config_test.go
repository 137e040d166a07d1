package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DB_DRIVER", "LOAD_COMMIT_POLICY", "POSTGRES_DB", "STAGING_TABLE", "SCHEDULE_LOAD", "SCRAPE_BASE_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "staging_iproperty", cfg.StagingTable)
	assert.Equal(t, "batch", cfg.CommitPolicy)
	assert.Equal(t, 95*time.Minute, cfg.LoadEvery)
	assert.Contains(t, cfg.DSN(), "dbname=iproperty")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/etl.db")
	t.Setenv("LOAD_COMMIT_POLICY", "row")
	t.Setenv("SCRAPE_REGIONS", " Kedah, perlis ,,")
	t.Setenv("SCHEDULE_LOAD", "30m")
	t.Setenv("MAX_CONCURRENCY", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/etl.db", cfg.DSN())
	assert.Equal(t, "row", cfg.CommitPolicy)
	assert.Equal(t, []string{"kedah", "perlis"}, cfg.ScrapeRegions)
	assert.Equal(t, 30*time.Minute, cfg.LoadEvery)
	assert.Equal(t, 4, cfg.MaxConcurrency)
}

func TestValidateFailsFast(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, "DB_DRIVER"},
		{"bad commit policy", func(c *Config) { c.CommitPolicy = "sometimes" }, "LOAD_COMMIT_POLICY"},
		{"missing staging table", func(c *Config) { c.StagingTable = "" }, "STAGING_TABLE"},
		{"landing on sqlite", func(c *Config) { c.DBDriver = DriverSQLite; c.RawLanding = true }, "RAW_LANDING"},
		{"base url without region", func(c *Config) { c.ScrapeBaseURL = "https://example.com" }, "SCRAPE_BASE_URL"},
		{"no pages", func(c *Config) { c.PagesToScrape = 0 }, "PAGES_TO_SCRAPE must be at least 1"},
		{"no retries", func(c *Config) { c.MaxRetries = -2 }, "MAX_RETRIES must be at least 1"},
		{"negative rate limit", func(c *Config) { c.RateLimitMs = -1 }, "RATE_LIMIT_MS must not be negative"},
		{"negative schedule", func(c *Config) { c.ExtractEvery = -time.Hour }, "SCHEDULE_EXTRACT must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidConfigPasses(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key, val, want string
	}{
		{"MAX_RETRIES", "abc", `MAX_RETRIES="abc" is not an integer`},
		{"PAGES_TO_SCRAPE", "5.5", `PAGES_TO_SCRAPE="5.5" is not an integer`},
		{"RAW_LANDING", "maybe", `RAW_LANDING="maybe" is not a boolean`},
		{"SCHEDULE_LOAD", "95", `SCHEDULE_LOAD="95" is not a duration`},
		{"RATE_LIMIT_MS", "-500", "RATE_LIMIT_MS must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv("DB_DRIVER", "")
			t.Setenv(tt.key, tt.val)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReportsEveryProblem(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("MAX_RETRIES", "abc")
	t.Setenv("PAGES_TO_SCRAPE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_RETRIES")
	assert.Contains(t, err.Error(), "PAGES_TO_SCRAPE must be at least 1")
}

func TestPostgresURL(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "postgres://etl:secret@db:5432/iproperty?sslmode=disable", cfg.PostgresURL())
}

func validConfig() *Config {
	return &Config{
		DBDriver:         DriverPostgres,
		PostgresHost:     "db",
		PostgresPort:     "5432",
		PostgresUser:     "etl",
		PostgresPassword: "secret",
		PostgresDB:       "iproperty",
		PostgresSSLMode:  "disable",
		SQLitePath:       "./x.db",
		RawDir:           "raw",
		StagingDir:       "staging",
		SchemaFile:       "schema.json",
		StagingSchemaKey: "staging_iproperty",
		StagingTable:     "staging_iproperty",
		CommitPolicy:     "batch",
		ScrapeBaseURL:    "https://www.iproperty.com.my/sale/%s/",
		MaxConcurrency:   1,
		MaxRetries:       3,
		PagesToScrape:    5,
		RateLimitMs:      2000,
	}
}
