// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the lottery service.
type Config struct {
	Port            string `mapstructure:"PORT"`
	GinMode         string `mapstructure:"GIN_MODE"`
	StorageDriver   string `mapstructure:"STORAGE_DRIVER"`
	SQLitePath      string `mapstructure:"SQLITE_PATH"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	AMQPURL         string `mapstructure:"AMQP_URL"`
	EventsExchange  string `mapstructure:"EVENTS_EXCHANGE"`
	JWTSecret       string `mapstructure:"JWT_SECRET"`
	DrawMaxAttempts int    `mapstructure:"DRAW_MAX_ATTEMPTS"`
	AuditSchedule   string `mapstructure:"AUDIT_SCHEDULE"`
	LogVerbose      bool   `mapstructure:"LOG_VERBOSE"`
}

var keys = []string{
	"PORT",
	"GIN_MODE",
	"STORAGE_DRIVER",
	"SQLITE_PATH",
	"DATABASE_URL",
	"AMQP_URL",
	"EVENTS_EXCHANGE",
	"JWT_SECRET",
	"DRAW_MAX_ATTEMPTS",
	"AUDIT_SCHEDULE",
	"LOG_VERBOSE",
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("GIN_MODE", "release")
	viper.SetDefault("STORAGE_DRIVER", DriverMemory)
	viper.SetDefault("SQLITE_PATH", "lottery.db")
	viper.SetDefault("EVENTS_EXCHANGE", "lottery.events")
	viper.SetDefault("DRAW_MAX_ATTEMPTS", 5)
	viper.SetDefault("AUDIT_SCHEDULE", "@every 10m")
	viper.SetDefault("LOG_VERBOSE", false)
	viper.AutomaticEnv()

	// Bind explicitly so keys without defaults still reach Unmarshal.
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.DrawMaxAttempts < 1 {
		return fmt.Errorf("DRAW_MAX_ATTEMPTS must be at least 1, got %d", c.DrawMaxAttempts)
	}
	return nil
}
