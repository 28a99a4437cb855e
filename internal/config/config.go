package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string
	MetricsAddr  string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Report    ReportConfig
	Scheduler SchedulerConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ReportConfig bounds the report orchestrator.
type ReportConfig struct {
	MaxParallel    int
	DefaultTimeout time.Duration
	LockTTL        time.Duration
	LockPoll       time.Duration
	CacheTTL       time.Duration

	// ForceRate and ForceBurst bound forced regeneration requests per user, in
	// tokens per second. A ForceRate of zero disables the limit.
	ForceRate  float64
	ForceBurst int
}

// SchedulerConfig drives the background maintenance sweeps.
type SchedulerConfig struct {
	Enabled          bool
	RunInterval      time.Duration
	BatchSize        int
	RetryFailed      bool
	RetryFailedAfter time.Duration
}

const (
	defaultMaxParallel    = 5
	defaultReportTimeout  = 30 * time.Second
	defaultLockTTL        = 2 * time.Minute
	defaultLockPoll       = 250 * time.Millisecond
	defaultReportCacheTTL = 24 * time.Hour
	defaultForceBurst     = 3
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewEngineConfigHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "destiny"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		MetricsAddr:       getenv("METRICS_ADDR", ":2112"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "destiny"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Report: ReportConfig{
			MaxParallel:    getenvInt("REPORT_MAX_PARALLEL", defaultMaxParallel),
			DefaultTimeout: getenvDuration("REPORT_DEFAULT_TIMEOUT", defaultReportTimeout),
			LockTTL:        getenvDuration("REPORT_LOCK_TTL", defaultLockTTL),
			LockPoll:       getenvDuration("REPORT_LOCK_POLL", defaultLockPoll),
			CacheTTL:       getenvDuration("REPORT_CACHE_TTL", defaultReportCacheTTL),
			ForceRate:      getenvFloat("REPORT_FORCE_RATE", 0),
			ForceBurst:     getenvInt("REPORT_FORCE_BURST", defaultForceBurst),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:      getenvDuration("SCHEDULER_RUN_INTERVAL", 0),
			BatchSize:        getenvInt("SCHEDULER_BATCH_SIZE", 0),
			RetryFailed:      getenvBool("SCHEDULER_RETRY_FAILED", false),
			RetryFailedAfter: getenvDuration("SCHEDULER_RETRY_FAILED_AFTER", 0),
		},
	}

	cfg.Report = cfg.Report.WithDefaults()
	return cfg
}

// WithDefaults fills zero or negative values with package defaults.
func (c ReportConfig) WithDefaults() ReportConfig {
	if c.MaxParallel <= 0 {
		c.MaxParallel = defaultMaxParallel
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultReportTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaultLockTTL
	}
	if c.LockPoll <= 0 {
		c.LockPoll = defaultLockPoll
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultReportCacheTTL
	}
	if c.ForceRate < 0 {
		c.ForceRate = 0
	}
	if c.ForceBurst <= 0 {
		c.ForceBurst = defaultForceBurst
	}
	return c
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
