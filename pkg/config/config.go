package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	CORS           CORSConfig
	Log            LogConfig
	Breaker        BreakerConfig
	Sync           SyncConfig
	Geo            GeoConfig
	Reconciliation ReconciliationConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BreakerConfig carries the default circuit breaker tuning applied to
// breakers created without explicit overrides.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// SyncConfig governs the clock synchronization path.
type SyncConfig struct {
	// MaxLoggedDriftMs is the drift magnitude above which a sync attempt is
	// logged at warn level. Drift never blocks a clock action.
	MaxLoggedDriftMs int64
	StatusCacheTTL   time.Duration
}

// GeoConfig configures the geolocation encryption collaborator. KeyHex must
// be a 64-character hex string (256-bit key) in production.
type GeoConfig struct {
	KeyHex string
}

// ReconciliationConfig tunes the background sync-metadata writer.
type ReconciliationConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Breaker = BreakerConfig{
		FailureThreshold: v.GetInt("BREAKER_FAILURE_THRESHOLD"),
		RecoveryTimeout:  parseDuration(v.GetString("BREAKER_RECOVERY_TIMEOUT"), 15*time.Second),
		HalfOpenMaxCalls: v.GetInt("BREAKER_HALF_OPEN_MAX_CALLS"),
	}

	cfg.Sync = SyncConfig{
		MaxLoggedDriftMs: v.GetInt64("SYNC_MAX_LOGGED_DRIFT_MS"),
		StatusCacheTTL:   parseDuration(v.GetString("CLOCK_STATUS_CACHE_TTL"), 15*time.Second),
	}

	cfg.Geo = GeoConfig{
		KeyHex: v.GetString("GEO_ENCRYPTION_KEY"),
	}

	cfg.Reconciliation = ReconciliationConfig{
		Workers:    v.GetInt("RECONCILIATION_WORKERS"),
		BufferSize: v.GetInt("RECONCILIATION_BUFFER_SIZE"),
		MaxRetries: v.GetInt("RECONCILIATION_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("RECONCILIATION_RETRY_DELAY"), 2*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "clinical_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 3)
	v.SetDefault("BREAKER_RECOVERY_TIMEOUT", "15s")
	v.SetDefault("BREAKER_HALF_OPEN_MAX_CALLS", 2)

	v.SetDefault("SYNC_MAX_LOGGED_DRIFT_MS", 5000)
	v.SetDefault("CLOCK_STATUS_CACHE_TTL", "15s")

	v.SetDefault("GEO_ENCRYPTION_KEY", "")

	v.SetDefault("RECONCILIATION_WORKERS", 1)
	v.SetDefault("RECONCILIATION_BUFFER_SIZE", 64)
	v.SetDefault("RECONCILIATION_MAX_RETRIES", 3)
	v.SetDefault("RECONCILIATION_RETRY_DELAY", "2s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
