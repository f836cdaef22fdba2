package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "./config/interflow.yaml"

// EnvPrefix prefixes environment overrides, e.g. INTERFLOW_DECISION_HUMAN_THRESHOLD.
const EnvPrefix = "INTERFLOW"

type ServerConfig struct {
	APIPort         int           `mapstructure:"api_port"`
	AdminPort       int           `mapstructure:"admin_port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DecisionConfig struct {
	HumanThreshold float64 `mapstructure:"human_threshold"`
}

type ResearchConfig struct {
	Provider          string        `mapstructure:"provider"`
	Endpoint          string        `mapstructure:"endpoint"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	CacheMaxBytes     int64         `mapstructure:"cache_max_bytes"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type PostgresConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type StreamingConfig struct {
	History      int `mapstructure:"history"`
	MaxWorkflows int `mapstructure:"max_workflows"`
}

// Config is the service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Decision  DecisionConfig  `mapstructure:"decision"`
	Research  ResearchConfig  `mapstructure:"research"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Streaming StreamingConfig `mapstructure:"streaming"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.api_port", 8000)
	v.SetDefault("server.admin_port", 8081)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("decision.human_threshold", 0.70)

	v.SetDefault("research.provider", "perplexity")
	v.SetDefault("research.endpoint", "https://api.perplexity.ai/search")
	v.SetDefault("research.api_key", "")
	v.SetDefault("research.timeout", 20*time.Second)
	v.SetDefault("research.max_attempts", 3)
	v.SetDefault("research.base_delay", 2*time.Second)
	v.SetDefault("research.requests_per_minute", 0)
	v.SetDefault("research.burst", 0)
	v.SetDefault("research.cache_ttl", 0)
	v.SetDefault("research.cache_max_bytes", 32<<20)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "interflow")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "interflow")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "interflow-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("streaming.history", 256)
	v.SetDefault("streaming.max_workflows", 1000)
}

// PathFromEnv returns CONFIG_PATH or DefaultPath.
func PathFromEnv() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML file at path, applies INTERFLOW_* env overrides and
// validates the result. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if err := ValidateThreshold(c.Decision.HumanThreshold); err != nil {
		return err
	}
	if c.Research.MaxAttempts <= 0 {
		return fmt.Errorf("research.max_attempts must be positive, got %d", c.Research.MaxAttempts)
	}
	if c.Research.BaseDelay < 0 {
		return fmt.Errorf("research.base_delay must not be negative")
	}
	if c.Server.APIPort <= 0 || c.Server.AdminPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

// ValidateThreshold checks a human review threshold.
func ValidateThreshold(v float64) error {
	if v < 0 || v > 1 || v != v {
		return fmt.Errorf("decision.human_threshold must be within [0, 1], got %v", v)
	}
	return nil
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}
