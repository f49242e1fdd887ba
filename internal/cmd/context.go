package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autodev/internal/contextstore"
	"github.com/Iron-Ham/autodev/internal/errors"
	"github.com/Iron-Ham/autodev/internal/report"
)

type contextViewOptions struct {
	keys    []string
	events  int
	jsonOut bool
}

func newContextCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect or modify the shared context store",
	}
	cmd.AddCommand(newContextShowCmd(a), newContextWatchCmd(a), newContextSetCmd(a))
	return cmd
}

func (o *contextViewOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&o.keys, "keys", "k", nil, "Only show keys matching these glob patterns (e.g. 'step.*')")
	cmd.Flags().IntVarP(&o.events, "events", "n", 10, "Number of most recent events to show (0 for all)")
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "Print as JSON")
}

func newContextShowCmd(a *app) *cobra.Command {
	opts := &contextViewOptions{}
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the saved context",
		Long: `Show the version, data and recent events of the saved context.

Examples:
  # Everything, with the last 10 events
  autodev context show

  # Only step outputs, with the full event log
  autodev context show --keys 'step.*' --events 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := contextstore.NewKeyFilter(opts.keys...)
			if err != nil {
				return err
			}
			store, logger, err := a.loadStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Close() }()
			return renderContext(cmd, store, filter, opts)
		},
	}
	opts.register(cmd)
	return cmd
}

func newContextWatchCmd(a *app) *cobra.Command {
	opts := &contextViewOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the context each time it is saved",
		Long: `Watch the store directory and print the context each time a run saves
it. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := contextstore.NewKeyFilter(opts.keys...)
			if err != nil {
				return err
			}
			dir, err := a.storeDir()
			if err != nil {
				return err
			}
			logger, err := a.openLogger(dir)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return contextstore.Watch(ctx, a.cfg.Store.ProjectName, dir, func(s *contextstore.Store) {
				if err := renderContext(cmd, s, filter, opts); err != nil {
					logger.Warn("failed to render context", "error", err)
				}
			}, a.storeOptions(logger)...)
		},
	}
	opts.register(cmd)
	return cmd
}

func newContextSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a context value and save",
		Long: `Set a value in the saved context. The value is parsed as JSON when it is
valid JSON and stored as a string otherwise.

Examples:
  autodev context set release.channel beta
  autodev context set build.flags '["-race", "-v"]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, logger, err := a.loadStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Close() }()

			value := parseValue(args[1])
			store.Set(args[0], value)
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s (version %d)\n", args[0], args[1], store.Version())
			return nil
		},
	}
}

// parseValue decodes s as JSON, falling back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// contextView is the JSON shape of context show.
type contextView struct {
	ProjectName string               `json:"project_name"`
	Version     int64                `json:"version"`
	Data        map[string]any       `json:"data"`
	Events      []contextstore.Event `json:"events"`
}

func renderContext(cmd *cobra.Command, store *contextstore.Store, filter *contextstore.KeyFilter, opts *contextViewOptions) error {
	data := filter.Apply(store.Data())
	events := contextstore.TailEvents(store.Events(), opts.events)

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(contextView{
			ProjectName: store.ProjectName(),
			Version:     store.Version(),
			Data:        data,
			Events:      events,
		}); err != nil {
			return errors.Wrap(err, "failed to encode context")
		}
		return nil
	}
	return report.Context(cmd.OutOrStdout(), store, data, events, renderOptions(cmd))
}
