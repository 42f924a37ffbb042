package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"ENV"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	BodyLimit      string `mapstructure:"BODY_LIMIT"`

	ImportFlushFrequency     int `mapstructure:"IMPORT_FLUSH_FREQUENCY"`
	ImportCacheSize          int `mapstructure:"IMPORT_CACHE_SIZE"`
	ImportMaxConcurrentJobs  int `mapstructure:"IMPORT_MAX_CONCURRENT_JOBS"`
	ImportTaskRetentionHours int `mapstructure:"IMPORT_TASK_RETENTION_HOURS"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"BODY_LIMIT", "IMPORT_FLUSH_FREQUENCY", "IMPORT_CACHE_SIZE",
	"IMPORT_MAX_CONCURRENT_JOBS", "IMPORT_TASK_RETENTION_HOURS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("BODY_LIMIT", "20M")
	v.SetDefault("IMPORT_FLUSH_FREQUENCY", 100)
	v.SetDefault("IMPORT_CACHE_SIZE", 10000)
	v.SetDefault("IMPORT_MAX_CONCURRENT_JOBS", 4)
	v.SetDefault("IMPORT_TASK_RETENTION_HOURS", 24)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development mode
// is used for ENV=development and JWT validation everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return strings.ToLower(c.AuthMode)
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.ResolvedAuthMode() {
	case "development":
	case "jwt":
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", c.AuthMode)
	}

	if c.ImportFlushFrequency <= 0 {
		return fmt.Errorf("IMPORT_FLUSH_FREQUENCY must be positive, got %d", c.ImportFlushFrequency)
	}
	if c.ImportCacheSize <= 0 {
		return fmt.Errorf("IMPORT_CACHE_SIZE must be positive, got %d", c.ImportCacheSize)
	}
	if c.ImportMaxConcurrentJobs <= 0 {
		return fmt.Errorf("IMPORT_MAX_CONCURRENT_JOBS must be positive, got %d", c.ImportMaxConcurrentJobs)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
