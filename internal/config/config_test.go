package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/autodev/internal/logging"
	"github.com/Iron-Ham/autodev/internal/scheduler"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Scheduler defaults
	if cfg.Scheduler.MaxParallel != 4 {
		t.Errorf("Scheduler.MaxParallel = %d, want 4", cfg.Scheduler.MaxParallel)
	}
	if cfg.Scheduler.FailFast {
		t.Error("Scheduler.FailFast should be false by default")
	}
	if cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("Scheduler.MaxRetries = %d, want 3", cfg.Scheduler.MaxRetries)
	}
	if cfg.Scheduler.Timeout != 5*time.Minute {
		t.Errorf("Scheduler.Timeout = %v, want 5m", cfg.Scheduler.Timeout)
	}
	if cfg.Scheduler.BaseBackoff != 2*time.Second {
		t.Errorf("Scheduler.BaseBackoff = %v, want 2s", cfg.Scheduler.BaseBackoff)
	}
	if cfg.Scheduler.MaxBackoff != 60*time.Second {
		t.Errorf("Scheduler.MaxBackoff = %v, want 60s", cfg.Scheduler.MaxBackoff)
	}

	// Store defaults
	if cfg.Store.Dir != filepath.Join(".autodev", "ctx") {
		t.Errorf("Store.Dir = %q", cfg.Store.Dir)
	}
	if cfg.Store.ProjectName != "autodev" {
		t.Errorf("Store.ProjectName = %q, want autodev", cfg.Store.ProjectName)
	}
	if cfg.Store.FileName != "context.json" {
		t.Errorf("Store.FileName = %q, want context.json", cfg.Store.FileName)
	}
	if cfg.Store.StaleTempAge != 60*time.Second {
		t.Errorf("Store.StaleTempAge = %v, want 60s", cfg.Store.StaleTempAge)
	}

	// Logging defaults
	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB != 10 || cfg.Logging.MaxBackups != 3 || cfg.Logging.Compress {
		t.Errorf("Logging rotation = %+v", cfg.Logging)
	}
}

func TestSchedulerConfig_Limits(t *testing.T) {
	cfg := SchedulerConfig{
		MaxRetries:  0,
		Timeout:     0,
		BaseBackoff: time.Second,
		MaxBackoff:  10 * time.Second,
	}
	want := scheduler.Limits{MaxRetries: 0, Timeout: 0, BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}
	if diff := cmp.Diff(want, cfg.Limits()); diff != "" {
		t.Errorf("Limits() mismatch (-want +got):\n%s", diff)
	}

	def := Default().Scheduler
	if diff := cmp.Diff(scheduler.DefaultLimits(), def.Limits()); diff != "" {
		t.Errorf("default Limits() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoggingConfig_Rotation(t *testing.T) {
	cfg := LoggingConfig{MaxSizeMB: 5, MaxBackups: 2, Compress: true}
	want := logging.RotationConfig{MaxSizeMB: 5, MaxBackups: 2, Compress: true}
	if diff := cmp.Diff(want, cfg.Rotation()); diff != "" {
		t.Errorf("Rotation() mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreConfig_ResolveDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		name    string
		dir     string
		baseDir string
		want    string
	}{
		{"relative", ".autodev/ctx", "/repo", "/repo/.autodev/ctx"},
		{"absolute", "/var/lib/autodev", "/repo", "/var/lib/autodev"},
		{"home prefix", "~/autodev", "/repo", filepath.Join(home, "autodev")},
		{"home only", "~", "/repo", home},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := StoreConfig{Dir: tt.dir}
			if got := s.ResolveDir(tt.baseDir); got != tt.want {
				t.Errorf("ResolveDir(%q) = %q, want %q", tt.baseDir, got, tt.want)
			}
		})
	}
}

func TestLoggingConfig_ResolveDir(t *testing.T) {
	tests := []struct {
		name string
		cfg  LoggingConfig
		want string
	}{
		{"disabled", LoggingConfig{Enabled: false, Dir: "logs"}, ""},
		{"falls back to store dir", LoggingConfig{Enabled: true}, "/repo/.autodev/ctx"},
		{"relative dir", LoggingConfig{Enabled: true, Dir: "logs"}, "/repo/logs"},
		{"absolute dir", LoggingConfig{Enabled: true, Dir: "/tmp/logs"}, "/tmp/logs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolveDir("/repo", "/repo/.autodev/ctx"); got != tt.want {
				t.Errorf("ResolveDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaultsOn(v)
	if yaml == "" {
		return v
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	return v
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(newViper(t, ""))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("LoadFrom() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFrom_File(t *testing.T) {
	cfg, err := LoadFrom(newViper(t, `
scheduler:
  max_parallel: 8
  fail_fast: true
  timeout: 90s
  base_backoff: 500ms
store:
  project_name: shop
logging:
  level: debug
  compress: true
`))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Scheduler.MaxParallel != 8 || !cfg.Scheduler.FailFast {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.Timeout != 90*time.Second {
		t.Errorf("Scheduler.Timeout = %v, want 90s", cfg.Scheduler.Timeout)
	}
	if cfg.Scheduler.BaseBackoff != 500*time.Millisecond {
		t.Errorf("Scheduler.BaseBackoff = %v, want 500ms", cfg.Scheduler.BaseBackoff)
	}
	if cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("unset Scheduler.MaxRetries = %d, want default 3", cfg.Scheduler.MaxRetries)
	}
	if cfg.Store.ProjectName != "shop" {
		t.Errorf("Store.ProjectName = %q, want shop", cfg.Store.ProjectName)
	}
	if cfg.Store.FileName != "context.json" {
		t.Errorf("unset Store.FileName = %q, want default", cfg.Store.FileName)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Compress {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadFrom_EnvOverride(t *testing.T) {
	t.Setenv("AUTODEV_SCHEDULER_MAX_PARALLEL", "2")
	t.Setenv("AUTODEV_STORE_PROJECT_NAME", "from-env")

	cfg, err := LoadFrom(newViper(t, "scheduler:\n  max_parallel: 8\n"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Scheduler.MaxParallel != 2 {
		t.Errorf("Scheduler.MaxParallel = %d, want env value 2", cfg.Scheduler.MaxParallel)
	}
	if cfg.Store.ProjectName != "from-env" {
		t.Errorf("Store.ProjectName = %q, want from-env", cfg.Store.ProjectName)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	_, err := LoadFrom(newViper(t, `
scheduler:
  max_parallel: 0
logging:
  level: verbose
`))
	if err == nil {
		t.Fatal("LoadFrom() should reject an invalid config")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d validation errors, want 2: %v", len(verrs), verrs)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/autodev" {
			t.Errorf("ConfigDir() = %q, want /custom/config/autodev", got)
		}
		if got := ConfigFile(); got != "/custom/config/autodev/config.yaml" {
			t.Errorf("ConfigFile() = %q", got)
		}
	})

	t.Run("home fallback", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		if got, want := ConfigDir(), filepath.Join(home, ".config", "autodev"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}
