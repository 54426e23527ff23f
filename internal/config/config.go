// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Console API settings.
	GatewayURL      string // Base URL of the calls API gateway.
	PageConcurrency int    // Cap on simultaneous page fetches.
	PageRetries     int    // Attempts per page request.

	// Database settings.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Operator-supplied SQL query templates.
	RandomCallIDQueryPath     string // Candidate call ids matching call filters.
	RandomCallDataQueryPath   string // Turn rows for a batch of call ids.
	CallIDsFromUUIDsQueryPath string // Id lookup for explicit call uuids.

	// Batch fetch settings.
	BatchSize      int           // Call ids per turn-query round trip.
	BatchDelay     time.Duration // Mandatory pacing between batches.
	BatchRetries   int           // Attempts per turn batch.
	IDFetchRetries int           // Attempts for candidate-id resolution.
	ConnRetryDelay time.Duration // Backoff after connection-level failures.

	// Media settings.
	CDNRecordingsBasePath string
	PresignAudioURLs      bool
	PresignExpiry         time.Duration

	// Output settings.
	Timezone string // Target timezone for readable reftimes.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		GatewayURL:                envStr("CALLSAMPLE_GATEWAY_URL", "https://apigateway.vernacular.ai"),
		PageConcurrency:           envInt("CALLSAMPLE_PAGE_CONCURRENCY", 8),
		PageRetries:               envInt("CALLSAMPLE_PAGE_RETRIES", 3),
		DBHost:                    envStr("DB_HOST", "localhost"),
		DBPort:                    envInt("DB_PORT", 5432),
		DBUser:                    envStr("DB_USER", ""),
		DBPassword:                envStr("DB_PASSWORD", ""),
		DBName:                    envStr("DB_NAME", ""),
		RandomCallIDQueryPath:     envStr("RANDOM_CALL_ID_QUERY", ""),
		RandomCallDataQueryPath:   envStr("RANDOM_CALL_DATA_QUERY", ""),
		CallIDsFromUUIDsQueryPath: envStr("CALL_IDS_FROM_UUIDS_QUERY", ""),
		BatchSize:                 envInt("CALLSAMPLE_BATCH_SIZE", 3000),
		BatchDelay:                envDuration("CALLSAMPLE_BATCH_DELAY", 500*time.Millisecond),
		BatchRetries:              envInt("CALLSAMPLE_BATCH_RETRIES", 25),
		IDFetchRetries:            envInt("CALLSAMPLE_ID_FETCH_RETRIES", 2),
		ConnRetryDelay:            envDuration("CALLSAMPLE_CONN_RETRY_DELAY", 2*time.Second),
		CDNRecordingsBasePath:     envStr("CDN_RECORDINGS_BASE_PATH", ""),
		PresignAudioURLs:          envBool("CALLSAMPLE_PRESIGN_AUDIO_URLS", false),
		PresignExpiry:             envDuration("CALLSAMPLE_PRESIGN_EXPIRY", 7*24*time.Hour),
		Timezone:                  envStr("CALLSAMPLE_TIMEZONE", "Asia/Kolkata"),
		OTELEndpoint:              envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:              envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:               envStr("OTEL_SERVICE_NAME", "callsample"),
		LogLevel:                  envStr("CALLSAMPLE_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are coherent. Database settings
// are validated lazily by RequireDB since console-only runs don't need them.
func (c Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("config: CALLSAMPLE_GATEWAY_URL is required")
	}
	if _, err := url.Parse(c.GatewayURL); err != nil {
		return fmt.Errorf("config: invalid gateway URL: %w", err)
	}
	if c.PageConcurrency <= 0 {
		return fmt.Errorf("config: CALLSAMPLE_PAGE_CONCURRENCY must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: CALLSAMPLE_BATCH_SIZE must be positive")
	}
	if c.BatchRetries <= 0 {
		return fmt.Errorf("config: CALLSAMPLE_BATCH_RETRIES must be positive")
	}
	return nil
}

// RequireDB checks that the settings needed for database sampling are set.
func (c Config) RequireDB() error {
	switch {
	case c.DBUser == "":
		return fmt.Errorf("config: DB_USER is required for database sampling")
	case c.DBName == "":
		return fmt.Errorf("config: DB_NAME is required for database sampling")
	case c.RandomCallIDQueryPath == "":
		return fmt.Errorf("config: RANDOM_CALL_ID_QUERY is required for database sampling")
	case c.RandomCallDataQueryPath == "":
		return fmt.Errorf("config: RANDOM_CALL_DATA_QUERY is required for database sampling")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
