// Package config provides configuration management for fetcharr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort             = 8080
	defaultServerTimeout          = 30 * time.Second
	defaultShutdownTimeout        = 10 * time.Second
	defaultMaxOpenConns           = 25
	defaultMaxIdleConns           = 10
	defaultConnMaxIdleTime        = 30 * time.Minute
	defaultMaxConcurrentDownloads = 2
	defaultMaxConcurrentSegments  = 3
	defaultMaxRetries             = 8
	defaultSegmentTimeout         = 60 * time.Second
	defaultPlaylistTimeout        = 60 * time.Second
	defaultMinSegmentSize         = 1024 // 1 KiB
	defaultRetentionDays          = 0    // keep forever
	defaultSweepSchedule          = "@every 1h"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Jellyfin  JellyfinConfig  `mapstructure:"jellyfin"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DownloadsConfig holds download engine configuration.
type DownloadsConfig struct {
	// Dir is the root directory holding one subdirectory per download.
	Dir string `mapstructure:"dir"`

	// MaxConcurrentDownloads caps how many downloads run at once.
	// Hot-swappable at runtime via the settings API.
	MaxConcurrentDownloads int `mapstructure:"max_concurrent_downloads"`

	// MaxConcurrentSegments caps parallel segment fetches per download.
	MaxConcurrentSegments int `mapstructure:"max_concurrent_segments"`

	// MaxRetries is the per-segment fetch attempt budget.
	// The upstream transcoder produces segments just-in-time, so a
	// generous budget with backoff doubles as the transcode-wait budget.
	MaxRetries int `mapstructure:"max_retries"`

	// SegmentTimeout is the per-attempt timeout for one segment fetch.
	SegmentTimeout Duration `mapstructure:"segment_timeout"`

	// PlaylistTimeout is the timeout for playlist fetches.
	PlaylistTimeout Duration `mapstructure:"playlist_timeout"`

	// MinSegmentSize is the minimum byte size a segment must have to be
	// considered valid, both at fetch time and during resume verification.
	// Supports human-readable values like "1KB".
	MinSegmentSize ByteSize `mapstructure:"min_segment_size"`

	// DefaultRetentionDays is the global retention default for completed
	// downloads. 0 means keep forever. Hot-swappable via the settings API.
	DefaultRetentionDays int `mapstructure:"default_retention_days"`
}

// RetentionConfig holds retention sweeper configuration.
type RetentionConfig struct {
	// SweepSchedule is a cron expression or descriptor (e.g. "@every 1h")
	// controlling how often expired downloads are deleted.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	// BinaryPath is the path to the ffmpeg binary (empty = resolve from PATH).
	BinaryPath string `mapstructure:"binary_path"`
}

// JellyfinConfig holds upstream media-server connection configuration.
type JellyfinConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	DeviceID string `mapstructure:"device_id"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FETCHARR_ and use underscores for nesting.
// Example: FETCHARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/fetcharr")
		v.AddConfigPath("$HOME/.fetcharr")
	}

	// Environment variable settings
	v.SetEnvPrefix("FETCHARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	// No write deadline: streaming a finished MP4 can legitimately take
	// longer than any fixed timeout.
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "fetcharr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Downloads defaults
	v.SetDefault("downloads.dir", "./downloads")
	v.SetDefault("downloads.max_concurrent_downloads", defaultMaxConcurrentDownloads)
	v.SetDefault("downloads.max_concurrent_segments", defaultMaxConcurrentSegments)
	v.SetDefault("downloads.max_retries", defaultMaxRetries)
	v.SetDefault("downloads.segment_timeout", defaultSegmentTimeout)
	v.SetDefault("downloads.playlist_timeout", defaultPlaylistTimeout)
	v.SetDefault("downloads.min_segment_size", defaultMinSegmentSize)
	v.SetDefault("downloads.default_retention_days", defaultRetentionDays)

	// Retention defaults
	v.SetDefault("retention.sweep_schedule", defaultSweepSchedule)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")

	// Jellyfin defaults
	v.SetDefault("jellyfin.base_url", "")
	v.SetDefault("jellyfin.api_key", "")
	v.SetDefault("jellyfin.device_id", "fetcharr")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Downloads validation
	if c.Downloads.Dir == "" {
		return fmt.Errorf("downloads.dir is required")
	}
	if c.Downloads.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("downloads.max_concurrent_downloads must be at least 1")
	}
	if c.Downloads.MaxConcurrentSegments < 1 {
		return fmt.Errorf("downloads.max_concurrent_segments must be at least 1")
	}
	if c.Downloads.MaxRetries < 1 {
		return fmt.Errorf("downloads.max_retries must be at least 1")
	}
	if c.Downloads.DefaultRetentionDays < 0 {
		return fmt.Errorf("downloads.default_retention_days must not be negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionDir returns the directory for one download session.
func (c *DownloadsConfig) SessionDir(sessionID string) string {
	return filepath.Join(c.Dir, sessionID)
}
