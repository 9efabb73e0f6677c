// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	// App settings
	App AppConfig

	// Database (PostgreSQL)
	Database DatabaseConfig

	// Redis cache
	Redis RedisConfig

	// Codeforces API
	Codeforces CodeforcesConfig

	// Background jobs
	Scheduler SchedulerConfig

	// Feature flags
	Features *FeatureFlags

	// Observability
	Observability ObservabilityConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool
	Version     string

	// Default timezone for users who did not set one
	Timezone string
	Location *time.Location

	// Offset of the local day boundary from midnight
	DayStart time.Duration

	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// Connection URL (postgres://...)
	URL string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Query timeout
	QueryTimeout time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Connection URL (redis://...) - takes precedence over Host/Port
	URL string

	// Individual settings
	Host     string
	Port     int
	Password string
	DB       int

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Disable Redis entirely (leaderboard reads fall back to postgres)
	Disabled bool
}

// CodeforcesConfig holds Codeforces API client settings.
type CodeforcesConfig struct {
	// API base URL
	BaseURL string

	// Rate limiting (the public API allows ~1 req/2s sustained)
	RateLimit      float64 // requests per second
	RateLimitBurst int

	// HTTP settings
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Circuit breaker settings
	CircuitBreakerThreshold   int           // failures before opening
	CircuitBreakerTimeout     time.Duration // time before half-open
	CircuitBreakerHalfOpenMax int           // max requests in half-open

	// Submission page size for user.status
	PageSize int
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	// Enable/disable scheduler
	Enabled bool

	// Job intervals
	SyncSolvesInterval     time.Duration // poll Codeforces per registered user
	RolloverSweepInterval  time.Duration // close out ended goal periods
	ContestSweepInterval   time.Duration // expire overdue active contests
	ReminderSweepInterval  time.Duration // evaluate reminder times
	RebuildRankingInterval time.Duration // rebuild the global score cache
	RebuildRankingCron     string        // cron override for the rebuild, e.g. "0 4 * * *"; empty means interval

	// Concurrency
	SyncConcurrency int
	JobTimeout      time.Duration
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.App = loadAppConfig()

	var err error
	cfg.Database, err = loadDatabaseConfig()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}

	cfg.Redis = loadRedisConfig()
	cfg.Codeforces = loadCodeforcesConfig()
	cfg.Scheduler = loadSchedulerConfig()
	cfg.Features = LoadFeatureFlags()
	cfg.Observability = loadObservabilityConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", "development"))
	timezone := getEnv("APP_TIMEZONE", "UTC")

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	return AppConfig{
		Name:            getEnv("APP_NAME", "cf-goal-hub"),
		Environment:     env,
		Debug:           env == EnvDevelopment || getEnvBool("APP_DEBUG", false),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		Timezone:        timezone,
		Location:        loc,
		DayStart:        getEnvDuration("APP_DAY_START", 4*time.Hour),
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		// Build from individual components
		host := getEnv("DB_HOST", "")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "")
		pass := getEnv("DB_PASSWORD", "")
		name := getEnv("DB_NAME", "postgres")
		sslmode := getEnv("DB_SSLMODE", "require")

		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, pass, host, port, name, sslmode)
		}
	}

	return DatabaseConfig{
		URL:             url,
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		QueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 30*time.Second),
	}, nil
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("REDIS_URL", ""),
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		Disabled:     getEnvBool("REDIS_DISABLED", false),
	}
}

func loadCodeforcesConfig() CodeforcesConfig {
	return CodeforcesConfig{
		BaseURL:                   getEnv("CF_API_URL", "https://codeforces.com/api"),
		RateLimit:                 getEnvFloat("CF_RATE_LIMIT", 0.5),
		RateLimitBurst:            getEnvInt("CF_RATE_LIMIT_BURST", 1),
		RequestTimeout:            getEnvDuration("CF_REQUEST_TIMEOUT", 15*time.Second),
		MaxRetries:                getEnvInt("CF_MAX_RETRIES", 3),
		RetryBaseDelay:            getEnvDuration("CF_RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:             getEnvDuration("CF_RETRY_MAX_DELAY", 10*time.Second),
		CircuitBreakerThreshold:   getEnvInt("CF_CB_THRESHOLD", 5),
		CircuitBreakerTimeout:     getEnvDuration("CF_CB_TIMEOUT", 1*time.Minute),
		CircuitBreakerHalfOpenMax: getEnvInt("CF_CB_HALF_OPEN_MAX", 2),
		PageSize:                  getEnvInt("CF_PAGE_SIZE", 100),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:                getEnvBool("SCHEDULER_ENABLED", true),
		SyncSolvesInterval:     getEnvDuration("SYNC_SOLVES_INTERVAL", 5*time.Minute),
		RolloverSweepInterval:  getEnvDuration("ROLLOVER_SWEEP_INTERVAL", 1*time.Hour),
		ContestSweepInterval:   getEnvDuration("CONTEST_SWEEP_INTERVAL", 1*time.Minute),
		ReminderSweepInterval:  getEnvDuration("REMINDER_SWEEP_INTERVAL", 30*time.Minute),
		RebuildRankingInterval: getEnvDuration("REBUILD_RANKING_INTERVAL", 15*time.Minute),
		RebuildRankingCron:     getEnv("REBUILD_RANKING_CRON", ""),
		SyncConcurrency:        getEnvInt("SYNC_CONCURRENCY", 4),
		JobTimeout:             getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate checks that required settings are present and consistent.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL (or DB_HOST/DB_USER) is required")
	}

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("unknown APP_ENV: %q", c.App.Environment)
	}

	if c.App.DayStart < 0 || c.App.DayStart >= 24*time.Hour {
		return fmt.Errorf("APP_DAY_START out of range: %s", c.App.DayStart)
	}

	if c.Codeforces.RateLimit <= 0 {
		return errors.New("CF_RATE_LIMIT must be positive")
	}

	return nil
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// ─────────────────────────────────────────────────────────────────────────────
// Env helpers
// ─────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1" || v == "yes"
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
