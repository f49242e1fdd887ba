// Package cmd implements the autodev command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/autodev/internal/config"
	"github.com/Iron-Ham/autodev/internal/contextstore"
	"github.com/Iron-Ham/autodev/internal/errors"
	"github.com/Iron-Ham/autodev/internal/logging"
	"github.com/Iron-Ham/autodev/internal/report"
)

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. Each call has its own viper instance,
// so trees built in tests do not share configuration.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "autodev",
		Short: "Dependency-aware task runner with a shared context store",
		Long: `Autodev runs a plan of steps as a dependency graph: independent steps run
in parallel, failed steps are retried with backoff, and steps whose
dependencies failed are skipped. Steps share a versioned context store that
is persisted atomically between runs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	// Global flags
	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/autodev/config.yaml)")
	flags.String("store-dir", "", "context store directory (overrides store.dir)")
	flags.String("log-level", "", "log level: debug, info, warn, error (overrides logging.level)")
	_ = a.v.BindPFlag("store.dir", flags.Lookup("store-dir"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))

	root.AddCommand(
		newRunCmd(a),
		newPlanCmd(),
		newContextCmd(a),
		newConfigCmd(a),
	)
	return root
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

// init loads the configuration: defaults, then the config file, then
// AUTODEV_* environment variables, then flags.
func (a *app) init(cmd *cobra.Command) error {
	config.SetDefaultsOn(a.v)

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(config.ConfigDir())
		a.v.AddConfigPath(".")
	}

	// A missing config file is fine unless one was named explicitly
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read config")
		}
	}

	cfg, err := config.LoadFrom(a.v)
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	a.cfg = cfg
	return nil
}

// storeDir returns the resolved context store directory.
func (a *app) storeDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get working directory")
	}
	return a.cfg.Store.ResolveDir(wd), nil
}

// storeOptions returns the options every store in this invocation is
// opened with.
func (a *app) storeOptions(logger *logging.Logger) []contextstore.Option {
	return []contextstore.Option{
		contextstore.WithFileName(a.cfg.Store.FileName),
		contextstore.WithStaleTempAge(a.cfg.Store.StaleTempAge),
		contextstore.WithLogger(logger),
	}
}

// openLogger creates the file logger for a command that touches the store.
// It returns a no-op logger when logging is disabled. The caller closes it.
func (a *app) openLogger(storeDir string) (*logging.Logger, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get working directory")
	}
	dir := a.cfg.Logging.ResolveDir(wd, storeDir)
	if dir == "" {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLoggerWithRotation(dir, a.cfg.Logging.Level, a.cfg.Logging.Rotation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open log file")
	}
	return logger, nil
}

// loadStore opens the logger and loads the context store. A quarantined
// snapshot is reported on stderr.
func (a *app) loadStore(cmd *cobra.Command) (*contextstore.Store, *logging.Logger, error) {
	dir, err := a.storeDir()
	if err != nil {
		return nil, nil, err
	}
	logger, err := a.openLogger(dir)
	if err != nil {
		return nil, nil, err
	}

	store, err := contextstore.Load(a.cfg.Store.ProjectName, dir, a.storeOptions(logger)...)
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	if rec := store.Recovered(); rec != nil {
		cmd.PrintErrf("Warning: %v\n", rec)
	}
	return store, logger, nil
}

// renderOptions enables color and fits lines to the screen only when
// stdout is a terminal.
func renderOptions(cmd *cobra.Command) report.Options {
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok || !report.IsTerminal(f) {
		return report.Options{}
	}
	return report.Options{Color: true, Width: report.Width(f, 0)}
}
