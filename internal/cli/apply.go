package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/state"
)

var (
	applyAutoApprove bool
	applyParallelism int
	applyVerify      bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [config]",
	Short: "Create, update and delete resources to match the configuration",
	Long: `Plans against the state revision held under the lock, then executes the
changes in dependency order with bounded concurrency. Every successful
resource is committed to the backend before its dependents start, so an
interrupted run leaves state describing exactly what completed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", engine.DefaultParallelism, "Maximum concurrent resource operations")
	applyCmd.Flags().BoolVar(&applyVerify, "verify", false, "Read back each resource after apply and taint on drift")
}

func runApply(cmd *cobra.Command, args []string) error {
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
	eng.Parallelism = applyParallelism
	eng.VerifyAfterApply = applyVerify

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

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n\n", len(plan.Changes))

	sink := state.BackendSink{Backend: backend}
	result, runErr := eng.ApplyPlanWithCallback(ctx, plan, st, sink, progressPrinter)
	if result == nil {
		// The run never started; state is untouched.
		return runErr
	}

	if exitErr := renderRunResult(result, plan); exitErr != nil {
		return exitErr
	}

	if len(plan.Outputs) > 0 {
		outputs, err := engine.ResolveOutputs(plan.Outputs, st)
		if err != nil {
			return &ExitError{Code: ExitPartial, Err: err}
		}
		st.Outputs = outputs
		st.Revision++
		if err := backend.Write(ctx, st); err != nil {
			return &ExitError{Code: ExitPartial, Err: err}
		}
		fmt.Println("\nOutputs:")
		for k, v := range outputs {
			fmt.Printf("  %s = %s\n", k, formatValue(v))
		}
	}

	return nil
}
