package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/autodev/internal/config"
	"github.com/Iron-Ham/autodev/internal/errors"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or create autodev configuration",
		Long: `View or create autodev configuration.

Settings are read from the config file, then from AUTODEV_* environment
variables (e.g. AUTODEV_SCHEDULER_MAX_PARALLEL), then from flags.`,
	}
	cmd.AddCommand(newConfigShowCmd(a), newConfigPathCmd(a), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# Config file: %s\n", used)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "# Config file: (none - using defaults)")
			}

			data, err := yaml.Marshal(configView(a.cfg))
			if err != nil {
				return errors.Wrap(err, "failed to encode config")
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Active config: %s\n", used)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Default path: %s (not created)\n", config.ConfigFile())
			}
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default config file",
		Long:  `Create a config file with every available option at ~/.config/autodev/config.yaml, or at --path.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.ConfigFile()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists at %s\nUse --force to overwrite it", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return errors.Wrap(err, "failed to create config directory")
			}
			if err := os.WriteFile(path, []byte(configTemplate(config.Default())), 0644); err != nil {
				return errors.Wrap(err, "failed to write config file")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Where to write the file (default is the user config file)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// configView lays out cfg with the keys used in config files.
func configView(cfg *config.Config) map[string]any {
	return map[string]any{
		"scheduler": map[string]any{
			"max_parallel": cfg.Scheduler.MaxParallel,
			"fail_fast":    cfg.Scheduler.FailFast,
			"max_retries":  cfg.Scheduler.MaxRetries,
			"timeout":      cfg.Scheduler.Timeout.String(),
			"base_backoff": cfg.Scheduler.BaseBackoff.String(),
			"max_backoff":  cfg.Scheduler.MaxBackoff.String(),
		},
		"store": map[string]any{
			"dir":            cfg.Store.Dir,
			"project_name":   cfg.Store.ProjectName,
			"file_name":      cfg.Store.FileName,
			"stale_temp_age": cfg.Store.StaleTempAge.String(),
		},
		"logging": map[string]any{
			"enabled":     cfg.Logging.Enabled,
			"dir":         cfg.Logging.Dir,
			"level":       cfg.Logging.Level,
			"max_size_mb": cfg.Logging.MaxSizeMB,
			"max_backups": cfg.Logging.MaxBackups,
			"compress":    cfg.Logging.Compress,
		},
	}
}

// configTemplate renders a commented config file holding the values of cfg.
func configTemplate(cfg *config.Config) string {
	return fmt.Sprintf(`# Autodev Configuration

# How plans are executed
scheduler:
  # Maximum number of steps running at once
  max_parallel: %d
  # Stop after the first level with a failure
  fail_fast: %t
  # Extra attempts after a failed attempt (steps can override this)
  max_retries: %d
  # Deadline for a single attempt; 0 disables it
  timeout: %s
  # Delay before the first retry; doubles per attempt up to max_backoff
  base_backoff: %s
  max_backoff: %s

# Shared context store
store:
  # Storage directory; relative paths resolve against the working directory
  dir: %s
  project_name: %s
  file_name: %s
  # Leftover temp files older than this are removed on load
  stale_temp_age: %s

# Debug logging (JSON lines)
logging:
  enabled: %t
  # Log directory; empty means the store directory
  dir: %q
  # Options: debug, info, warn, error
  level: %s
  # Rotation
  max_size_mb: %d
  max_backups: %d
  compress: %t
`,
		cfg.Scheduler.MaxParallel,
		cfg.Scheduler.FailFast,
		cfg.Scheduler.MaxRetries,
		cfg.Scheduler.Timeout,
		cfg.Scheduler.BaseBackoff,
		cfg.Scheduler.MaxBackoff,
		cfg.Store.Dir,
		cfg.Store.ProjectName,
		cfg.Store.FileName,
		cfg.Store.StaleTempAge,
		cfg.Logging.Enabled,
		cfg.Logging.Dir,
		cfg.Logging.Level,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.Compress,
	)
}
