package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server     ServerConfig
	App        AppConfig
	Log        LogConfig
	Cache      CacheConfig
	DocumentDB DocumentDBConfig
	Source     SourceConfig
	Lock       LockConfig
	Breaker    BreakerConfig
	RateLimit  RateLimitConfig
	Sync       SyncConfig
	AutoSync   AutoSyncConfig
	Conflict   ConflictConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string   `envconfig:"APP_NAME" default:"stockcount-sync-api"`
	Environment string   `envconfig:"APP_ENV" default:"development"`
	Version     string   `envconfig:"APP_VERSION" default:"1.0.0"`
	APIKeys     []string `envconfig:"API_KEYS"` // empty disables the key check
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// CacheConfig selects the KV store used for locks, presence and rate limits.
type CacheConfig struct {
	Type string `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// DocumentDBConfig selects the document store.
type DocumentDBConfig struct {
	Type          string `envconfig:"DOCUMENT_DB_TYPE" default:"sqlite"` // sqlite or mongodb
	Path          string `envconfig:"DOCUMENT_DB_PATH" default:"./data/stockcount.db"`
	MongoURI      string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"stockcount"`
}

// SourceConfig describes the external inventory database.
type SourceConfig struct {
	Type     string `envconfig:"SOURCE_DB_TYPE" default:"none"` // mysql, postgres, sqlite or none
	Host     string `envconfig:"SOURCE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"SOURCE_DB_PORT" default:"3306"`
	Name     string `envconfig:"SOURCE_DB_NAME" default:"erp"`
	User     string `envconfig:"SOURCE_DB_USER" default:"root"`
	Password string `envconfig:"SOURCE_DB_PASS" default:""`
	SSLMode  string `envconfig:"SOURCE_DB_SSLMODE" default:"disable"`
	Path     string `envconfig:"SOURCE_DB_PATH" default:"./data/source.db"` // sqlite only
	Table    string `envconfig:"SOURCE_DB_TABLE" default:"inventory_items"`
}

// LockConfig holds lease and presence timings.
type LockConfig struct {
	KeyPrefix         string        `envconfig:"LOCK_KEY_PREFIX" default:"stockcount"`
	RackTTL           time.Duration `envconfig:"LOCK_RACK_TTL" default:"300s"`
	PresenceTTL       time.Duration `envconfig:"LOCK_PRESENCE_TTL" default:"120s"`
	HeartbeatInterval time.Duration `envconfig:"LOCK_HEARTBEAT_INTERVAL" default:"60s"`
	SafetyMargin      time.Duration `envconfig:"LOCK_SAFETY_MARGIN" default:"30s"`
}

// BreakerConfig holds circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	SuccessThreshold int           `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`
	Timeout          time.Duration `envconfig:"BREAKER_TIMEOUT" default:"60s"`
	HalfOpenMaxCalls int           `envconfig:"BREAKER_HALF_OPEN_MAX_CALLS" default:"1"`
}

// RateLimitConfig holds the per-user batch quota.
type RateLimitConfig struct {
	Enabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Requests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	Window   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// SyncConfig tunes batch sync.
type SyncConfig struct {
	MaxBatchSize            int  `envconfig:"SYNC_MAX_BATCH_SIZE" default:"500"`
	RegisterSerialConflicts bool `envconfig:"SYNC_REGISTER_SERIAL_CONFLICTS" default:"false"`
}

// AutoSyncConfig tunes the source monitor.
type AutoSyncConfig struct {
	Enabled       bool          `envconfig:"AUTOSYNC_ENABLED" default:"true"`
	CheckInterval time.Duration `envconfig:"AUTOSYNC_CHECK_INTERVAL" default:"30s"`
	SyncInterval  time.Duration `envconfig:"AUTOSYNC_SYNC_INTERVAL" default:"300s"`
	SyncTimeout   time.Duration `envconfig:"AUTOSYNC_SYNC_TIMEOUT" default:"10m"`
}

// ConflictConfig controls conflict retention.
type ConflictConfig struct {
	Retention       time.Duration `envconfig:"CONFLICT_RETENTION" default:"720h"`
	CleanupInterval time.Duration `envconfig:"CONFLICT_CLEANUP_INTERVAL" default:"1h"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Driver returns the database/sql driver name for the source, or "" when
// no source is configured.
func (s *SourceConfig) Driver() string {
	switch s.Type {
	case "mysql", "postgres", "sqlite":
		return s.Type
	}
	return ""
}

// DSN returns the data source name for the configured source type.
func (s *SourceConfig) DSN() string {
	switch s.Type {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			s.User, s.Password, s.Host, s.Port, s.Name)
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
	case "sqlite":
		return s.Path
	}
	return ""
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Lock.RackTTL < c.Lock.HeartbeatInterval+c.Lock.SafetyMargin {
		errs = append(errs, fmt.Errorf("LOCK_RACK_TTL %s must be at least LOCK_HEARTBEAT_INTERVAL + LOCK_SAFETY_MARGIN (%s)",
			c.Lock.RackTTL, c.Lock.HeartbeatInterval+c.Lock.SafetyMargin))
	}
	if c.Lock.PresenceTTL <= 0 {
		errs = append(errs, errors.New("LOCK_PRESENCE_TTL must be positive"))
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.SuccessThreshold <= 0 || c.Breaker.HalfOpenMaxCalls <= 0 {
		errs = append(errs, errors.New("breaker thresholds must be positive"))
	}
	if c.Breaker.Timeout <= 0 {
		errs = append(errs, errors.New("BREAKER_TIMEOUT must be positive"))
	}
	if c.Sync.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("SYNC_MAX_BATCH_SIZE must be positive"))
	}

	switch strings.ToLower(c.DocumentDB.Type) {
	case "sqlite":
	case "mongodb":
		if c.DocumentDB.MongoURI == "" {
			errs = append(errs, errors.New("MONGODB_URI is required when DOCUMENT_DB_TYPE=mongodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DOCUMENT_DB_TYPE %q", c.DocumentDB.Type))
	}

	switch strings.ToLower(c.Cache.Type) {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_TYPE %q", c.Cache.Type))
	}

	switch c.Source.Type {
	case "none", "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown SOURCE_DB_TYPE %q", c.Source.Type))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
