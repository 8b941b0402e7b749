package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the gateway core.
type Config struct {
	HTTPPort string
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Auth     AuthConfig
	Budget   BudgetConfig
	Spend    SpendConfig
	Router   RouterConfig
	SpendLog SpendLogSinkConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// RedisConfig holds Redis connection settings. Redis is optional: without it
// the gateway runs with the local cache tier and in-process rate limiting.
type RedisConfig struct {
	Enabled      bool
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CacheConfig holds hybrid cache settings
type CacheConfig struct {
	AuthCacheSize int
	AuthCacheTTL  time.Duration
	SpendCacheTTL time.Duration
}

// AuthConfig holds authenticator settings
type AuthConfig struct {
	MasterKey        string
	JWTSecret        []byte
	JWTEnabled       bool
	PublicRoutes     []string
	UISentinelTeamID string
}

// BudgetConfig holds enforcement settings
type BudgetConfig struct {
	GlobalMaxBudget    float64 // 0 = unlimited
	SoftBudgetFraction float64
	ModelSpendWindow   time.Duration
}

// SpendConfig holds spend accounting settings
type SpendConfig struct {
	FlushInterval time.Duration // jittered +/-30% per tick
	LogEnabled    bool
	LogBatchSize  int
}

// RouterConfig holds deployment routing settings
type RouterConfig struct {
	Strategy         string
	MaxAttempts      int
	DispatchTimeout  time.Duration
	FailureWindow    time.Duration
	FailureThreshold int
	CooldownPeriod   time.Duration
}

// SpendLogSinkConfig holds configuration for the S3-based spend-log archive
type SpendLogSinkConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort: getEnvString("HTTP_PORT", "8080"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			QueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Enabled:      getEnvBool("REDIS_ENABLED", false),
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Cache: CacheConfig{
			AuthCacheSize: getEnvInt("CACHE_AUTH_SIZE", 5000),
			AuthCacheTTL:  getEnvDuration("CACHE_AUTH_TTL", 60*time.Second),
			SpendCacheTTL: getEnvDuration("CACHE_SPEND_TTL", 60*time.Second),
		},
		Auth: AuthConfig{
			MasterKey:  getEnvString("MASTER_KEY", ""),
			JWTSecret:  []byte(getEnvString("JWT_SECRET", "")),
			JWTEnabled: getEnvBool("JWT_AUTH_ENABLED", false),
			PublicRoutes: getEnvList("PUBLIC_ROUTES",
				[]string{"/health", "/v1/models"}),
			UISentinelTeamID: getEnvString("UI_SENTINEL_TEAM_ID", "ui-dashboard"),
		},
		Budget: BudgetConfig{
			GlobalMaxBudget:    getEnvFloat("GLOBAL_MAX_BUDGET", 0),
			SoftBudgetFraction: getEnvFloat("SOFT_BUDGET_FRACTION", 0.85),
			ModelSpendWindow:   getEnvDuration("MODEL_SPEND_WINDOW", 28*24*time.Hour),
		},
		Spend: SpendConfig{
			FlushInterval: getEnvDuration("SPEND_FLUSH_INTERVAL", 10*time.Second),
			LogEnabled:    getEnvBool("SPEND_LOG_ENABLED", true),
			LogBatchSize:  getEnvInt("SPEND_LOG_BATCH_SIZE", 100),
		},
		Router: RouterConfig{
			Strategy:         getEnvString("ROUTER_STRATEGY", "round-robin"),
			MaxAttempts:      getEnvInt("ROUTER_MAX_ATTEMPTS", 3),
			DispatchTimeout:  getEnvDuration("ROUTER_DISPATCH_TIMEOUT", 60*time.Second),
			FailureWindow:    getEnvDuration("ROUTER_FAILURE_WINDOW", time.Minute),
			FailureThreshold: getEnvInt("ROUTER_FAILURE_THRESHOLD", 3),
			CooldownPeriod:   getEnvDuration("ROUTER_COOLDOWN_PERIOD", 30*time.Second),
		},
		SpendLog: SpendLogSinkConfig{
			Enabled:       getEnvBool("SPEND_LOG_SINK_ENABLED", false),
			BufferSize:    getEnvInt("SPEND_LOG_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("SPEND_LOG_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("SPEND_LOG_SINK_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("SPEND_LOG_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("SPEND_LOG_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("SPEND_LOG_SINK_S3_PREFIX", "spend-logs/"),
			PodName:       getEnvString("POD_NAME", "gateway-0"),
		},
	}

	return cfg, nil
}
