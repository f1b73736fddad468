// Package config loads runtime settings from an optional YAML file with
// BOOKDLBOT_* environment variable overrides. Credentials are never defaulted;
// they must come from the environment or the file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Library  LibraryConfig  `mapstructure:"library"`
	Bot      BotConfig      `mapstructure:"bot"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// TelegramConfig holds the transport settings.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// LibraryConfig holds the remote book service settings.
type LibraryConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Email           string        `mapstructure:"email"`
	Password        string        `mapstructure:"password"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	RateLimitRefill time.Duration `mapstructure:"rate_limit_refill"`
}

// BotConfig holds dispatch-layer settings.
type BotConfig struct {
	PageSize    int           `mapstructure:"page_size"`
	ResultTTL   time.Duration `mapstructure:"result_ttl"`
	ResultPurge time.Duration `mapstructure:"result_purge"`
	MaxSessions int           `mapstructure:"max_sessions"`
	RepoURL     string        `mapstructure:"repo_url"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// MetricsConfig holds the optional Prometheus listener settings.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from path (optional; empty means env and defaults
// only) and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("library.base_url", "https://zlibrary-api.example.com")
	v.SetDefault("library.call_timeout", 30*time.Second)
	v.SetDefault("library.retry_attempts", 3)
	v.SetDefault("library.retry_delay", 2*time.Second)
	v.SetDefault("library.rate_limit_burst", 5)
	v.SetDefault("library.rate_limit_refill", time.Second)
	v.SetDefault("bot.page_size", 5)
	v.SetDefault("bot.result_ttl", 30*time.Minute)
	v.SetDefault("bot.result_purge", 10*time.Minute)
	v.SetDefault("bot.max_sessions", 1024)
	v.SetDefault("bot.repo_url", "https://github.com/walktheearth/bookdlbot")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("metrics.listen_addr", "")

	v.SetEnvPrefix("BOOKDLBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have no defaults, so their keys must be bound explicitly for
	// environment-only configuration to reach Unmarshal.
	for _, key := range []string{"telegram.token", "library.email", "library.password", "log.file"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required (BOOKDLBOT_TELEGRAM_TOKEN)")
	}
	if c.Library.Email == "" || c.Library.Password == "" {
		return fmt.Errorf("library.email and library.password are required")
	}
	if c.Library.BaseURL == "" {
		return fmt.Errorf("library.base_url is required")
	}
	if c.Library.RetryAttempts < 1 {
		return fmt.Errorf("library.retry_attempts must be at least 1, got %d", c.Library.RetryAttempts)
	}
	if c.Bot.PageSize < 1 {
		return fmt.Errorf("bot.page_size must be at least 1, got %d", c.Bot.PageSize)
	}
	return nil
}
