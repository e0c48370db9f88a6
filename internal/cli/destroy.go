package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/state"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [config]",
	Short: "Delete every resource recorded in state",
	Long: `Plans the removal of everything in state, in reverse dependency order,
and applies it. Resources with preventDestroy set abort the plan.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, baseDir, err := loadConfig(args)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, baseDir)
	if err != nil {
		return err
	}

	registry := newRegistry()
	eng := engine.NewEngine(registry)

	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	st, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if err := loadProviders(registry, cfg, st); err != nil {
		return err
	}

	// Destruction is a plan against an empty set of declarations.
	empty := &ir.Config{Providers: cfg.Providers, Backend: cfg.Backend}
	plan, err := eng.CreatePlan(ctx, empty, st)
	if err != nil {
		return err
	}

	if plan.Empty() {
		fmt.Println("No resources in state. Nothing to destroy.")
		return &ExitError{Code: ExitNothingToDo}
	}

	fmt.Println("Stackform will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		if !confirm("\nDo you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n\n", len(plan.Changes))

	sink := state.BackendSink{Backend: backend}
	result, runErr := eng.ApplyPlanWithCallback(ctx, plan, st, sink, progressPrinter)
	if result == nil {
		return runErr
	}
	return renderRunResult(result, plan)
}
