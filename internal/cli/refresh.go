package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/state"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [config]",
	Short: "Reconcile state with the real remote resources",
	Long: `Reads every resource recorded in state from its provider. Resources
that vanished remotely are removed from state; resources whose remote
attributes drifted from the recorded inputs are tainted so the next
apply replaces them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, baseDir, err := loadConfig(args)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, baseDir)
	if err != nil {
		return err
	}

	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	st, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	registry := newRegistry()
	if err := loadProviders(registry, cfg, st); err != nil {
		return err
	}

	eng := engine.NewEngine(registry)
	reports, err := eng.Refresh(ctx, st, state.BackendSink{Backend: backend})
	if err != nil {
		return err
	}

	if len(reports) == 0 {
		fmt.Println("State is up to date. No drift detected.")
		return nil
	}

	for _, report := range reports {
		if report.Gone {
			fmt.Printf("%s%s: gone remotely, removed from state%s\n", colorRed, report.Address, colorReset)
			continue
		}
		fmt.Printf("%s%s: drifted (%s), tainted%s\n", colorYellow, report.Address,
			strings.Join(report.Changed, ", "), colorReset)
	}
	return nil
}
