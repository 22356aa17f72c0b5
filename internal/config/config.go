package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the gateway configuration
type Config struct {
	// HTTP/WebSocket listener
	ListenAddr string `mapstructure:"listen_addr"`

	// Database configuration
	DatabasePath  string `mapstructure:"database_path"`
	EncryptionKey string `mapstructure:"encryption_key"` // base64, 32 bytes; generated next to the database when empty

	// Management API authentication
	JWTSecret     string `mapstructure:"jwt_secret"`
	AdminUser     string `mapstructure:"admin_user"`
	AdminPassword string `mapstructure:"admin_password"`

	// Scheduler intervals, seconds
	CommandSweepInterval int `mapstructure:"command_sweep_interval"`
	StatusPollInterval   int `mapstructure:"status_poll_interval"`
	UserSyncInterval     int `mapstructure:"user_sync_interval"`

	// Expiry policy, seconds
	CommandExpiry  int `mapstructure:"command_expiry"`   // SENT commands older than this are failed
	StaleSyncReset int `mapstructure:"stale_sync_reset"` // a sync stuck this long is force-reset

	// Optional attendance fan-out
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Optional external timesheet archive
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:           ":8080",
		DatabasePath:         "./gateway.db",
		JWTSecret:            "",
		AdminUser:            "admin",
		AdminPassword:        "",
		CommandSweepInterval: 60,
		StatusPollInterval:   120,
		UserSyncInterval:     120,
		CommandExpiry:        600,
		StaleSyncReset:       300,
		RedisAddr:            "",
		PostgresDSN:          "",
		LogLevel:             "info",
		LogFile:              "",
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/terminal-gateway")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".terminal-gateway"))
		}
	}

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("encryption_key", cfg.EncryptionKey)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("admin_user", cfg.AdminUser)
	v.SetDefault("admin_password", cfg.AdminPassword)
	v.SetDefault("command_sweep_interval", cfg.CommandSweepInterval)
	v.SetDefault("status_poll_interval", cfg.StatusPollInterval)
	v.SetDefault("user_sync_interval", cfg.UserSyncInterval)
	v.SetDefault("command_expiry", cfg.CommandExpiry)
	v.SetDefault("stale_sync_reset", cfg.StaleSyncReset)
	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("redis_password", cfg.RedisPassword)
	v.SetDefault("redis_db", cfg.RedisDB)
	v.SetDefault("postgres_dsn", cfg.PostgresDSN)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}
	if c.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption_key must be base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("encryption_key must decode to 32 bytes, got %d", len(key))
		}
	}
	if c.CommandSweepInterval <= 0 {
		return fmt.Errorf("command_sweep_interval must be positive")
	}
	if c.StatusPollInterval <= 0 {
		return fmt.Errorf("status_poll_interval must be positive")
	}
	if c.UserSyncInterval <= 0 {
		return fmt.Errorf("user_sync_interval must be positive")
	}
	if c.CommandExpiry <= 0 {
		return fmt.Errorf("command_expiry must be positive")
	}
	if c.StaleSyncReset <= 0 {
		return fmt.Errorf("stale_sync_reset must be positive")
	}
	return nil
}

// EncryptionKeyBytes returns the configured encryption key, or nil when unset
func (c *Config) EncryptionKeyBytes() []byte {
	if c.EncryptionKey == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil
	}
	return key
}
