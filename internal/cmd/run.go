package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autodev/internal/errors"
	"github.com/Iron-Ham/autodev/internal/event"
	"github.com/Iron-Ham/autodev/internal/pipeline"
	"github.com/Iron-Ham/autodev/internal/report"
)

type runOptions struct {
	failFast    bool
	maxParallel int
	outputDir   string
	jsonOut     bool
	quiet       bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [plan-file]",
		Short: "Run a plan against the context store",
		Long: `Run the steps of a plan as a dependency graph against the context store.

Steps in the same level run in parallel up to the concurrency limit. A step
that fails is retried with exponential backoff; steps that depend on a
failed step are skipped. The store is saved when the run finishes, even
when it was interrupted.

Without a plan file the built-in project plan runs: frontend and backend in
parallel, then tests, then docs.

Examples:
  # Run the built-in plan
  autodev run

  # Run a plan, stopping after the first level with a failure
  autodev run --fail-fast build.yaml

  # Machine-readable summary
  autodev run --json build.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, a, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Stop after the first level with a failure (overrides scheduler.fail_fast)")
	cmd.Flags().IntVarP(&opts.maxParallel, "max-parallel", "p", 0, "Maximum steps running at once (overrides scheduler.max_parallel)")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "Directory artifacts are written to (overrides the plan's output_dir)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the run summary as JSON")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

func runPlan(cmd *cobra.Command, a *app, opts *runOptions, args []string) error {
	plan := pipeline.DefaultPlan()
	if len(args) > 0 {
		p, err := pipeline.LoadPlan(args[0])
		if err != nil {
			return err
		}
		plan = p
	}
	if opts.outputDir != "" {
		plan.OutputDir = opts.outputDir
	}

	failFast := a.cfg.Scheduler.FailFast
	if cmd.Flags().Changed("fail-fast") {
		failFast = opts.failFast
	}
	maxParallel := a.cfg.Scheduler.MaxParallel
	if opts.maxParallel > 0 {
		maxParallel = opts.maxParallel
	}

	store, logger, err := a.loadStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	orch := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithMaxParallel(maxParallel),
		pipeline.WithDefaults(a.cfg.Scheduler.Limits()),
	)
	if !opts.quiet && !opts.jsonOut {
		watchProgress(orch.Bus(), cmd.ErrOrStderr())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, runErr := orch.Run(ctx, plan, store, failFast)
	if summary == nil {
		return runErr
	}

	saveErr := store.Save()
	if saveErr != nil {
		logger.Error("failed to save context", "error", saveErr)
	}

	if opts.jsonOut {
		err = report.SummaryJSON(cmd.OutOrStdout(), summary)
	} else {
		err = report.Summary(cmd.OutOrStdout(), summary, renderOptions(cmd))
	}
	if err != nil {
		return errors.Wrap(err, "failed to write summary")
	}

	switch {
	case runErr != nil:
		return errors.Wrap(runErr, "run interrupted")
	case saveErr != nil:
		return saveErr
	case !summary.OK():
		return fmt.Errorf("%d of %d steps did not complete", summary.Total-summary.Completed, summary.Total)
	}
	return nil
}

// watchProgress prints one line per scheduler event to w.
func watchProgress(bus *event.Bus, w io.Writer) {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(w, format, args...)
	}

	bus.SubscribeAll(func(e event.Event) {
		switch ev := e.(type) {
		case event.LevelStartedEvent:
			printf("level %d: %s\n", ev.Level, strings.Join(ev.UnitIDs, ", "))
		case event.UnitRetryingEvent:
			printf("  retry     %s after %s: %s\n", ev.UnitID, ev.Delay, ev.Error)
		case event.UnitCompletedEvent:
			printf("  done      %s (%d attempt(s), %s)\n", ev.UnitID, ev.Attempts, ev.Duration.Round(time.Millisecond))
		case event.UnitFailedEvent:
			printf("  failed    %s: %s\n", ev.UnitID, ev.Error)
		case event.UnitSkippedEvent:
			printf("  skipped   %s (needs %s)\n", ev.UnitID, ev.Dependency)
		}
	})
}
