package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autodev/internal/contextstore"
	"github.com/Iron-Ham/autodev/internal/errors"
	"github.com/Iron-Ham/autodev/internal/pipeline"
	"github.com/Iron-Ham/autodev/internal/report"
	"github.com/Iron-Ham/autodev/internal/scheduler"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect plan files",
	}
	cmd.AddCommand(newPlanValidateCmd(), newPlanLevelsCmd(), newPlanDefaultCmd())
	return cmd
}

func newPlanValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Check a plan without running it",
		Long: `Check a plan for structural problems without running it.

This command checks:
  - Valid YAML syntax and required fields
  - Unique step ids and known step kinds
  - Dependency validity (no cycles, no missing references)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, sched, err := buildPlan(args[0])
			if err != nil {
				return err
			}
			levels, err := sched.Levels()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plan %q is valid: %d steps in %d levels\n", plan.Name, len(plan.Steps), len(levels))
			return nil
		},
	}
}

func newPlanLevelsCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "levels <plan-file>",
		Short: "Show the execution levels of a plan",
		Long: `Show the levels a plan decomposes into. Steps in the same level have no
dependencies on each other and run in parallel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sched, err := buildPlan(args[0])
			if err != nil {
				return err
			}
			levels, err := sched.Levels()
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(levels)
			}
			return report.Levels(cmd.OutOrStdout(), levels, renderOptions(cmd))
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the levels as JSON")
	return cmd
}

func newPlanDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Print the built-in project plan as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := pipeline.DefaultPlan().Encode()
			if err != nil {
				return errors.Wrap(err, "failed to encode plan")
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// buildPlan loads a plan and builds its scheduler against a scratch store,
// which catches unknown step kinds as well as graph errors.
func buildPlan(path string) (*pipeline.Plan, *scheduler.Scheduler, error) {
	plan, err := pipeline.LoadPlan(path)
	if err != nil {
		return nil, nil, err
	}
	sched, err := pipeline.New().Build(plan, contextstore.New(plan.Name, ""))
	if err != nil {
		return nil, nil, fmt.Errorf("plan %s: %w", path, err)
	}
	if err := sched.Validate(); err != nil {
		return nil, nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return plan, sched, nil
}
