// Package mtagconfig provides configuration management for the mtagctl
// tool and any long-running host process embedding the engine.
package mtagconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the profiler and its collaborators.
type Config struct {
	Profiler  ProfilerConfig  `mapstructure:"profiler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

// ProfilerConfig mirrors the engine's compile-time limits and snapshot
// settings so they can be overridden without a rebuild.
type ProfilerConfig struct {
	MaxNodes            int    `mapstructure:"max_nodes"`
	MaxLevels           int    `mapstructure:"max_levels"`
	MaxSiblings         int    `mapstructure:"max_siblings"`
	MaxTrees            int    `mapstructure:"max_trees"`
	MaxNameLen          int    `mapstructure:"max_name_len"`
	SnapshotIntervalSec int    `mapstructure:"snapshot_interval_sec"`
	SnapshotPrefix      string `mapstructure:"snapshot_prefix"`
	Allocator           string `mapstructure:"allocator"` // "goheap" or "mmap"
}

// DatabaseConfig holds the snapshot-repository's database connection
// configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // postgres, mysql, or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds object storage configuration for exported
// JSON/DOT documents.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"`
	Compress  string `mapstructure:"compress"` // zstd, gzip, or none
}

// TelemetryConfig holds OpenTelemetry exporter configuration for
// wrapping cold-path collection/serialisation spans.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Enabled     bool   `mapstructure:"enabled"`
	UseHTTP     bool   `mapstructure:"use_http"` // otlphttp instead of otlpgrpc
}

// SchedulerConfig configures the caller-driven interval snapshot runner.
type SchedulerConfig struct {
	PollInterval int `mapstructure:"poll_interval"` // in seconds
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from configPath, or from standard locations
// when configPath is empty, falling back to defaults for anything unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("mtag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mtag")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("mtag: config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("mtag: config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	applyProfilerEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadFromReader loads configuration from raw bytes, useful for tests.
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// applyProfilerEnvOverrides binds the profiler's own environment
// variables (§6) on top of viper's generic AutomaticEnv prefixing, since
// those names don't follow the PROFILER_* pattern viper would derive
// from the mapstructure tags.
func applyProfilerEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("profiler.snapshot_interval_sec", "MTAG_SNAPSHOT_INTERVAL_SEC")
	_ = v.BindEnv("profiler.snapshot_prefix", "MTAG_SNAPSHOT_OUTPUT_PREFIX_FILE_PATH")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profiler.max_nodes", 256)
	v.SetDefault("profiler.max_levels", 256)
	v.SetDefault("profiler.max_siblings", 16)
	v.SetDefault("profiler.max_trees", 128)
	v.SetDefault("profiler.max_name_len", 32)
	v.SetDefault("profiler.snapshot_interval_sec", 0)
	v.SetDefault("profiler.allocator", "goheap")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./mtag-snapshots")
	v.SetDefault("storage.compress", "zstd")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "mtag")

	v.SetDefault("scheduler.poll_interval", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate checks the config for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.Profiler.MaxNameLen < 16 {
		return fmt.Errorf("profiler.max_name_len must be at least 16, got %d", c.Profiler.MaxNameLen)
	}
	if c.Profiler.MaxNodes < 1 {
		return fmt.Errorf("profiler.max_nodes must be at least 1")
	}
	switch c.Database.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	switch c.Storage.Type {
	case "local", "cos":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	switch c.Storage.Compress {
	case "", "zstd", "gzip", "none":
	default:
		return fmt.Errorf("unsupported storage compression type: %s", c.Storage.Compress)
	}
	return nil
}

// EnsureLocalStorageDir creates the local storage directory if configured.
func (c *Config) EnsureLocalStorageDir() error {
	if c.Storage.Type != "local" || c.Storage.LocalPath == "" {
		return nil
	}
	return os.MkdirAll(c.Storage.LocalPath, 0o755)
}

// SnapshotPath joins the local storage directory with a relative key.
func (c *Config) SnapshotPath(key string) string {
	return filepath.Join(c.Storage.LocalPath, key)
}
