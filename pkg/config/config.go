package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (선택: URL이 비어 있으면 Postgres 저장 비활성)
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// External data providers
	Providers ProvidersConfig

	// Pipeline execution
	Pipeline PipelineConfig

	// Guardrail policy
	Guardrail GuardrailConfig

	// Scheduled analysis
	Scheduler SchedulerConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether run records should be persisted to Postgres.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// ProvidersConfig holds market-data and news provider settings
type ProvidersConfig struct {
	YahooBaseURL     string
	MarketAuxBaseURL string
	MarketAuxAPIKey  string
	HTTPTimeout      time.Duration
	CacheTTL         time.Duration
	NewsLimit        int
}

// PipelineConfig holds run-level execution limits
type PipelineConfig struct {
	RunTimeout       time.Duration
	StageTimeout     time.Duration
	AllowDegraded    bool   // Layer 2 멤버 타임아웃 시 Layer 3 진행 허용
	RunsDir          string // RunRecord 파일 저장 위치
	MaxForecastYears int
	MaxPeriodDays    int
}

// GuardrailConfig holds rate-limit and output-filter settings
type GuardrailConfig struct {
	RateLimit      int
	RateWindow     time.Duration
	PolicyFile     string // optional YAML override
	MaxOutputBytes int
}

// SchedulerConfig holds the watchlist schedule
type SchedulerConfig struct {
	Watchlist []string
	Cron      string
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Providers: ProvidersConfig{
			YahooBaseURL:     getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			MarketAuxBaseURL: getEnv("MARKETAUX_BASE_URL", "https://api.marketaux.com/v1"),
			MarketAuxAPIKey:  getEnv("MARKETAUX_API_KEY", ""),
			HTTPTimeout:      getEnvAsDuration("PROVIDER_HTTP_TIMEOUT", "20s"),
			CacheTTL:         getEnvAsDuration("PROVIDER_CACHE_TTL", "10m"),
			NewsLimit:        getEnvAsInt("PROVIDER_NEWS_LIMIT", 20),
		},

		Pipeline: PipelineConfig{
			RunTimeout:       getEnvAsDuration("PIPELINE_RUN_TIMEOUT", "60s"),
			StageTimeout:     getEnvAsDuration("PIPELINE_STAGE_TIMEOUT", "30s"),
			AllowDegraded:    getEnvAsBool("PIPELINE_ALLOW_DEGRADED", true),
			RunsDir:          getEnv("PIPELINE_RUNS_DIR", "runs"),
			MaxForecastYears: getEnvAsInt("PIPELINE_MAX_FORECAST_YEARS", 10),
			MaxPeriodDays:    getEnvAsInt("PIPELINE_MAX_PERIOD_DAYS", 1260),
		},

		Guardrail: GuardrailConfig{
			RateLimit:      getEnvAsInt("GUARDRAIL_RATE_LIMIT", 60),
			RateWindow:     getEnvAsDuration("GUARDRAIL_RATE_WINDOW", "1m"),
			PolicyFile:     getEnv("GUARDRAIL_POLICY_FILE", ""),
			MaxOutputBytes: getEnvAsInt("GUARDRAIL_MAX_OUTPUT_BYTES", 10*1024*1024),
		},

		Scheduler: SchedulerConfig{
			Watchlist: getEnvAsList("SCHEDULER_WATCHLIST", "AAPL,MSFT,GOOGL"),
			Cron:      getEnv("SCHEDULER_CRON", "0 30 16 * * MON-FRI"),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Pipeline.RunTimeout <= 0 {
		return fmt.Errorf("PIPELINE_RUN_TIMEOUT must be > 0")
	}
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("PIPELINE_STAGE_TIMEOUT must be > 0")
	}
	// stage deadline은 run deadline을 넘을 수 없음
	if c.Pipeline.StageTimeout > c.Pipeline.RunTimeout {
		return fmt.Errorf("PIPELINE_STAGE_TIMEOUT (%s) must not exceed PIPELINE_RUN_TIMEOUT (%s)",
			c.Pipeline.StageTimeout, c.Pipeline.RunTimeout)
	}
	if c.Pipeline.MaxForecastYears <= 0 {
		return fmt.Errorf("PIPELINE_MAX_FORECAST_YEARS must be > 0")
	}

	if c.Guardrail.RateLimit <= 0 {
		return fmt.Errorf("GUARDRAIL_RATE_LIMIT must be > 0")
	}
	if c.Guardrail.RateWindow <= 0 {
		return fmt.Errorf("GUARDRAIL_RATE_WINDOW must be > 0")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env",         // Current directory
		"backend/.env", // From project root
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

// getEnvAsList splits a comma separated value, dropping empty entries
func getEnvAsList(key string, defaultValue string) []string {
	raw := getEnv(key, defaultValue)

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
