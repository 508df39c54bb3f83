// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`

	DBMaxOpenConns                int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns                int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes      int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	DBSchemaMode                  string `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateAllowDestructive bool   `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	StoreBackend   string `mapstructure:"STORE_BACKEND"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	Env            string `mapstructure:"APP_ENV"`

	LiveKeyTTLHours       int    `mapstructure:"LIVE_KEY_TTL_HOURS"`
	ReportTTLHours        int    `mapstructure:"REPORT_TTL_HOURS"`
	RollupIntervalSeconds int    `mapstructure:"ROLLUP_INTERVAL_SECONDS"`
	RollupLockSeconds     int    `mapstructure:"ROLLUP_LOCK_SECONDS"`
	ViewHistoryBatch      int    `mapstructure:"VIEW_HISTORY_BATCH"`
	ViewerExcludedRoles   string `mapstructure:"VIEWER_EXCLUDED_ROLES"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "livecount")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("STORE_BACKEND", "redis")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LIVE_KEY_TTL_HOURS", 24)
	viper.SetDefault("REPORT_TTL_HOURS", 24)
	viper.SetDefault("ROLLUP_INTERVAL_SECONDS", 60)
	viper.SetDefault("ROLLUP_LOCK_SECONDS", 55)
	viper.SetDefault("VIEW_HISTORY_BATCH", 500)
	viper.SetDefault("VIEWER_EXCLUDED_ROLES", "administrator,seller")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))
	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch c.StoreBackend {
	case "", "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.RollupIntervalSeconds <= 0 {
		return errors.New("ROLLUP_INTERVAL_SECONDS must be positive")
	}
	if c.RollupLockSeconds <= 0 {
		return errors.New("ROLLUP_LOCK_SECONDS must be positive")
	}
	if c.ViewHistoryBatch < 0 {
		return errors.New("VIEW_HISTORY_BATCH must not be negative")
	}

	isProduction := c.Env == "production" || c.Env == "prod"

	// Strict checks for production
	if isProduction {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.StoreBackend == "memory" {
			return errors.New("STORE_BACKEND=memory cannot be used in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// LiveKeyTTL is the sliding expiry applied to per-broadcast live keys.
func (c *Config) LiveKeyTTL() time.Duration {
	return hoursOr(c.LiveKeyTTLHours, 24)
}

// ReportTTL is the expiry applied to a live report-user set after its first report.
func (c *Config) ReportTTL() time.Duration {
	return hoursOr(c.ReportTTLHours, 24)
}

// RollupInterval is the delay between scheduled flush cycles.
func (c *Config) RollupInterval() time.Duration {
	return time.Duration(c.RollupIntervalSeconds) * time.Second
}

// RollupLockTTL bounds how long one instance may hold the flush lock.
func (c *Config) RollupLockTTL() time.Duration {
	return time.Duration(c.RollupLockSeconds) * time.Second
}

// ExcludedRoleNames splits VIEWER_EXCLUDED_ROLES into trimmed, lower-cased names.
func (c *Config) ExcludedRoleNames() []string {
	var out []string
	for _, part := range strings.Split(c.ViewerExcludedRoles, ",") {
		if name := strings.ToLower(strings.TrimSpace(part)); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func hoursOr(h, fallback int) time.Duration {
	if h <= 0 {
		h = fallback
	}
	return time.Duration(h) * time.Hour
}
