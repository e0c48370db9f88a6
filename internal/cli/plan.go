package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
)

var planCmd = &cobra.Command{
	Use:   "plan [config]",
	Short: "Show the changes required to reach the declared configuration",
	Long: `Compares the declared configuration against recorded state and prints
the resources that would be created, updated, replaced or deleted.

Plans are informational and never persisted; apply recomputes the plan
against the state revision it holds under the lock.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, baseDir, err := loadConfig(args)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, baseDir)
	if err != nil {
		return err
	}

	st, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	registry := newRegistry()
	if err := loadProviders(registry, cfg, st); err != nil {
		return err
	}

	eng := engine.NewEngine(registry)
	plan, err := eng.CreatePlan(ctx, cfg, st)
	if err != nil {
		return err
	}

	if plan.Empty() {
		fmt.Println("No changes. Infrastructure matches the configuration.")
		return &ExitError{Code: ExitNothingToDo}
	}

	fmt.Println("Stackform will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)
	return nil
}
