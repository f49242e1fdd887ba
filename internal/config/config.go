package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/autodev/internal/contextstore"
	"github.com/Iron-Ham/autodev/internal/logging"
	"github.com/Iron-Ham/autodev/internal/scheduler"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// AUTODEV_SCHEDULER_MAX_PARALLEL.
const EnvPrefix = "AUTODEV"

// Config represents the complete autodev configuration
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SchedulerConfig controls how task graphs are executed
type SchedulerConfig struct {
	// MaxParallel caps the number of units executing at once (default: 4)
	MaxParallel int `mapstructure:"max_parallel"`
	// FailFast stops scheduling new levels after a level with a failure (default: false)
	FailFast bool `mapstructure:"fail_fast"`
	// MaxRetries is the number of extra attempts after a failure (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
	// Timeout bounds a single attempt; 0 disables the deadline (default: 5m)
	Timeout time.Duration `mapstructure:"timeout"`
	// BaseBackoff is the delay before the first retry (default: 2s)
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	// MaxBackoff caps the retry delay (default: 60s)
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// StoreConfig controls where the shared context is persisted
type StoreConfig struct {
	// Dir is the storage directory. Relative paths resolve against the
	// working directory; ~ expands to the home directory (default: ".autodev/ctx")
	Dir string `mapstructure:"dir"`
	// ProjectName labels the persisted snapshot (default: "autodev")
	ProjectName string `mapstructure:"project_name"`
	// FileName is the canonical snapshot file name (default: "context.json")
	FileName string `mapstructure:"file_name"`
	// StaleTempAge is how old a leftover temp file must be before Load removes it (default: 60s)
	StaleTempAge time.Duration `mapstructure:"stale_temp_age"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logs are written to a file (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Dir is the log directory; empty means the store directory
	Dir string `mapstructure:"dir"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	rotation := logging.DefaultRotationConfig()
	return &Config{
		Scheduler: SchedulerConfig{
			MaxParallel: scheduler.DefaultMaxParallel,
			FailFast:    false,
			MaxRetries:  scheduler.DefaultMaxRetries,
			Timeout:     scheduler.DefaultTimeout,
			BaseBackoff: scheduler.DefaultBaseBackoff,
			MaxBackoff:  scheduler.DefaultMaxBackoff,
		},
		Store: StoreConfig{
			Dir:          filepath.Join(".autodev", "ctx"),
			ProjectName:  "autodev",
			FileName:     contextstore.DefaultFileName,
			StaleTempAge: contextstore.DefaultStaleTempAge,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Dir:        "",
			Level:      "info",
			MaxSizeMB:  rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
			Compress:   rotation.Compress,
		},
	}
}

// Limits converts the scheduler section into the defaults applied to steps
// that leave their limits unset. The values are literal: zero retries means
// none and a zero timeout means no deadline.
func (c *SchedulerConfig) Limits() scheduler.Limits {
	return scheduler.Limits{
		MaxRetries:  c.MaxRetries,
		Timeout:     c.Timeout,
		BaseBackoff: c.BaseBackoff,
		MaxBackoff:  c.MaxBackoff,
	}
}

// Rotation converts the logging section into rotation settings.
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

// ResolveDir returns the storage directory with ~ expanded and relative
// paths resolved against baseDir.
func (s *StoreConfig) ResolveDir(baseDir string) string {
	return resolvePath(s.Dir, baseDir)
}

// ResolveDir returns the log directory: the configured one resolved like
// StoreConfig.ResolveDir, or storeDir when none is set. It returns "" when
// logging is disabled.
func (c *LoggingConfig) ResolveDir(baseDir, storeDir string) string {
	if !c.Enabled {
		return ""
	}
	if c.Dir == "" {
		return storeDir
	}
	return resolvePath(c.Dir, baseDir)
}

func resolvePath(path, baseDir string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values and environment bindings on v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Scheduler defaults
	v.SetDefault("scheduler.max_parallel", defaults.Scheduler.MaxParallel)
	v.SetDefault("scheduler.fail_fast", defaults.Scheduler.FailFast)
	v.SetDefault("scheduler.max_retries", defaults.Scheduler.MaxRetries)
	v.SetDefault("scheduler.timeout", defaults.Scheduler.Timeout)
	v.SetDefault("scheduler.base_backoff", defaults.Scheduler.BaseBackoff)
	v.SetDefault("scheduler.max_backoff", defaults.Scheduler.MaxBackoff)

	// Store defaults
	v.SetDefault("store.dir", defaults.Store.Dir)
	v.SetDefault("store.project_name", defaults.Store.ProjectName)
	v.SetDefault("store.file_name", defaults.Store.FileName)
	v.SetDefault("store.stale_temp_age", defaults.Store.StaleTempAge)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autodev")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autodev"
	}
	return filepath.Join(home, ".config", "autodev")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
