// Package config provides configuration management for the projector.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (DATABASE_URL, PROJECTION_SLOTS, COMMITLOG_TENANT, ...)
// 3. Default values
//
// Import Path: readmodel.dev/projector/internal/config
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Identity generator backends.
const (
	GeneratorPostgres = "postgres"
	GeneratorRedis    = "redis"
	GeneratorMemory   = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	River      RiverConfig      `mapstructure:"river"`
	Security   SecurityConfig   `mapstructure:"security"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Projection ProjectionConfig `mapstructure:"projection"`
	CommitLog  CommitLogConfig  `mapstructure:"commitlog"`
	Identity   IdentityConfig   `mapstructure:"identity"`
}

// ServerConfig contains admin HTTP server settings.
type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	// UnsafeAllowAllOrigins honors "*" in AllowedOrigins. Credentials are
	// disabled when it is set.
	UnsafeAllowAllOrigins bool `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings. One pgxpool is
// shared by the stores and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// RedisConfig is only used when identity.generator is "redis".
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
	LagReportInterval           time.Duration `mapstructure:"lag_report_interval"`
}

// SecurityConfig contains admin API credentials.
type SecurityConfig struct {
	// JWTSecret signs and verifies admin bearer tokens (HS256).
	JWTSecret string `mapstructure:"jwt_secret"`
	// TokenLifetime is the validity of tokens minted by "projector token".
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	SlotPoolSize    int `mapstructure:"slot_pool_size"`
}

// ProjectionConfig tunes the projection engine.
type ProjectionConfig struct {
	// Slots run by this process. "*" stands for every slot not listed.
	Slots                 []string      `mapstructure:"slots"`
	Rebuild               bool          `mapstructure:"rebuild"`
	ManualPoll            bool          `mapstructure:"manual_poll"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	BackoffBase           time.Duration `mapstructure:"backoff_base"`
	BackoffMax            time.Duration `mapstructure:"backoff_max"`
	CheckpointRetries     int           `mapstructure:"checkpoint_retries"`
	SkipInvalidChangesets bool          `mapstructure:"skip_invalid_changesets"`
}

// CommitLogConfig selects the commit stream to consume.
type CommitLogConfig struct {
	// ConnectionID names the commit-log partition.
	ConnectionID      string `mapstructure:"connection_id"`
	Tenant            string `mapstructure:"tenant"`
	PageSize          int    `mapstructure:"page_size"`
	AutoCreateAliases bool   `mapstructure:"auto_create_aliases"`
}

// IdentityConfig selects the identity generator.
type IdentityConfig struct {
	Generator string `mapstructure:"generator"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Nested keys map to upper-case names: projection.poll_interval is
// PROJECTION_POLL_INTERVAL.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/projector")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Security.JWTSecret) < 32 {
		errs = append(errs, errors.New("security.jwt_secret must be at least 32 characters"))
	}
	if c.CommitLog.ConnectionID == "" {
		errs = append(errs, errors.New("commitlog.connection_id must not be empty"))
	}
	if c.Projection.PollInterval <= 0 {
		errs = append(errs, errors.New("projection.poll_interval must be positive"))
	}
	if c.Projection.BackoffBase <= 0 || c.Projection.BackoffMax < c.Projection.BackoffBase {
		errs = append(errs, errors.New("projection.backoff_base must be positive and not above backoff_max"))
	}
	if c.Projection.CheckpointRetries <= 0 {
		errs = append(errs, errors.New("projection.checkpoint_retries must be positive"))
	}
	for _, s := range c.Projection.Slots {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("projection.slots must not contain empty names"))
			break
		}
	}
	if !slices.Contains([]string{GeneratorPostgres, GeneratorRedis, GeneratorMemory}, c.Identity.Generator) {
		errs = append(errs, fmt.Errorf("identity.generator %q is not one of postgres, redis, memory", c.Identity.Generator))
	}
	if c.Identity.Generator == GeneratorRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for the redis identity generator"))
	}
	return errors.Join(errs...)
}

// ensureSecrets generates a JWT secret when none is configured. Tokens
// signed with it do not survive a restart.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt secret: %w", err)
		}
		c.Security.JWTSecret = secret
		logBootstrapWarn(
			"auto-generated jwt_secret; set SECURITY_JWT_SECRET env var for persistence",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "projector")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "projector")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Redis
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "projector:identity:")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 2)
	v.SetDefault("river.completed_job_retention_period", "24h")
	v.SetDefault("river.lag_report_interval", "1m")

	// Security
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.token_lifetime", "12h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 32)
	v.SetDefault("worker.slot_pool_size", 16)

	// Projection engine
	v.SetDefault("projection.slots", []string{"*"})
	v.SetDefault("projection.rebuild", false)
	v.SetDefault("projection.manual_poll", false)
	v.SetDefault("projection.poll_interval", "500ms")
	v.SetDefault("projection.backoff_base", "50ms")
	v.SetDefault("projection.backoff_max", "30s")
	v.SetDefault("projection.checkpoint_retries", 5)
	v.SetDefault("projection.skip_invalid_changesets", false)

	// Commit log
	v.SetDefault("commitlog.connection_id", "default")
	v.SetDefault("commitlog.tenant", "")
	v.SetDefault("commitlog.page_size", 200)
	v.SetDefault("commitlog.auto_create_aliases", true)

	// Identity
	v.SetDefault("identity.generator", GeneratorPostgres)
}
