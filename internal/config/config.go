/**
 * @description
 * Configuration for the account-service and scheduler-service binaries.
 * Settings come from environment variables, optionally seeded by a .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 */
package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	ArchiveDatabaseURL   string `mapstructure:"ARCHIVE_DATABASE_URL"`
	ServerPort           string `mapstructure:"SERVER_PORT"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisLockPrefix      string `mapstructure:"REDIS_LOCK_PREFIX"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	ArchiveJobSchedule   string `mapstructure:"ARCHIVE_JOB_SCHEDULE"`
	UnarchiveJobSchedule string `mapstructure:"UNARCHIVE_JOB_SCHEDULE"`
	SweepTimeoutSeconds  int    `mapstructure:"SWEEP_TIMEOUT_SECONDS"`
	MoveTimeoutSeconds   int    `mapstructure:"MOVE_TIMEOUT_SECONDS"`
	DBMaxConns           int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32  `mapstructure:"DB_MIN_CONNS"`
}

var envKeys = []string{
	"DATABASE_URL",
	"ARCHIVE_DATABASE_URL",
	"SERVER_PORT",
	"RABBITMQ_URL",
	"REDIS_URL",
	"REDIS_LOCK_PREFIX",
	"JWT_SECRET",
	"ARCHIVE_JOB_SCHEDULE",
	"UNARCHIVE_JOB_SCHEDULE",
	"SWEEP_TIMEOUT_SECONDS",
	"MOVE_TIMEOUT_SECONDS",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
}

// SweepTimeout bounds a single archival or unarchival run.
func (c Config) SweepTimeout() time.Duration {
	if c.SweepTimeoutSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.SweepTimeoutSeconds) * time.Second
}

// MoveTimeout bounds the move of a single account between the two stores.
func (c Config) MoveTimeout() time.Duration {
	if c.MoveTimeoutSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.MoveTimeoutSeconds) * time.Second
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_LOCK_PREFIX", "gescomptes:lock")
	viper.SetDefault("ARCHIVE_JOB_SCHEDULE", "0 0 * * *")    // Every day at midnight.
	viper.SetDefault("UNARCHIVE_JOB_SCHEDULE", "30 0 * * *") // Every day at 00:30.
	viper.SetDefault("SWEEP_TIMEOUT_SECONDS", 600)
	viper.SetDefault("MOVE_TIMEOUT_SECONDS", 60)
	viper.SetDefault("DB_MAX_CONNS", 20)
	viper.SetDefault("DB_MIN_CONNS", 2)

	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if strings.TrimSpace(config.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(config.ArchiveDatabaseURL) == "" {
		return nil, errors.New("ARCHIVE_DATABASE_URL is required")
	}

	return &config, nil
}
