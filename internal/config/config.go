package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema        string        `mapstructure:"DB_SCHEMA"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	Timezone        string        `mapstructure:"TIMEZONE"`
	ResetHour       int           `mapstructure:"RESET_HOUR"`
	ResetMinute     int           `mapstructure:"RESET_MINUTE"`
	CodeMaxAttempts int           `mapstructure:"CODE_MAX_ATTEMPTS"`
	DisplayTick     time.Duration `mapstructure:"DISPLAY_TICK"`
	ResetCheckTick  time.Duration `mapstructure:"RESET_CHECK_TICK"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	LogFile         string        `mapstructure:"LOG_FILE"`
	MetricsEnabled  bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"CORS_ORIGINS", "TIMEZONE", "RESET_HOUR", "RESET_MINUTE", "CODE_MAX_ATTEMPTS",
	"DISPLAY_TICK", "RESET_CHECK_TICK", "REQUEST_TIMEOUT", "LOG_LEVEL", "LOG_FILE",
	"METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TIMEZONE", "America/Santiago")
	v.SetDefault("RESET_HOUR", 7)
	v.SetDefault("RESET_MINUTE", 0)
	v.SetDefault("CODE_MAX_ATTEMPTS", 5)
	v.SetDefault("DISPLAY_TICK", "1s")
	v.SetDefault("RESET_CHECK_TICK", "1m")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration can schedule codes.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ResetHour < 0 || c.ResetHour > 23 {
		return fmt.Errorf("RESET_HOUR must be between 0 and 23, got %d", c.ResetHour)
	}
	if c.ResetMinute < 0 || c.ResetMinute > 59 {
		return fmt.Errorf("RESET_MINUTE must be between 0 and 59, got %d", c.ResetMinute)
	}
	if c.CodeMaxAttempts < 1 {
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be at least 1, got %d", c.CodeMaxAttempts)
	}
	if c.DisplayTick <= 0 {
		return fmt.Errorf("DISPLAY_TICK must be positive, got %s", c.DisplayTick)
	}
	if c.ResetCheckTick <= 0 {
		return fmt.Errorf("RESET_CHECK_TICK must be positive, got %s", c.ResetCheckTick)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
