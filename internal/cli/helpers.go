package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stackform-io/stackform/internal/config"
	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/state"
	awsprovider "github.com/stackform-io/stackform/providers/aws"
	localprovider "github.com/stackform-io/stackform/providers/local"
)

// loadConfig resolves the configuration entry point from an optional
// positional argument (file or directory) and parses it. Returns the
// config and the directory that anchors relative paths such as the
// default local state location.
func loadConfig(args []string) (*ir.Config, string, error) {
	path := config.DefaultFileName
	if len(args) > 0 {
		path = args[0]
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		abs = filepath.Join(abs, config.DefaultFileName)
	}

	cfg, err := config.Load(abs)
	if err != nil {
		return nil, "", err
	}
	return cfg, filepath.Dir(abs), nil
}

// openBackend selects the state backend from the config, defaulting to a
// local file under .stackform/ next to the configuration.
func openBackend(cfg *ir.Config, baseDir string) (state.Backend, error) {
	return state.NewBackend(cfg.Backend, filepath.Join(baseDir, ".stackform", "state.json"))
}

// newRegistry returns a registry with every built-in provider registered.
func newRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("aws", awsprovider.New)
	registry.Register("local", localprovider.New)
	return registry
}

// loadProviders initializes every provider referenced by the config or by
// entries already in state (those are needed for deletes), using the
// settings from the config's provider blocks.
func loadProviders(registry *provider.Registry, cfg *ir.Config, st *ir.State) error {
	names := make(map[string]bool)
	if cfg != nil {
		for name := range cfg.Providers {
			names[name] = true
		}
		for _, res := range cfg.Resources {
			if res.Provider != "" {
				names[res.Provider] = true
			}
		}
	}
	if st != nil {
		for _, entry := range st.Resources {
			if entry.Provider != "" {
				names[entry.Provider] = true
			}
		}
	}

	for name := range names {
		var settings *provider.Settings
		if cfg != nil {
			if pc, ok := cfg.Providers[name]; ok && pc != nil {
				settings = &provider.Settings{
					Region:   pc.Region,
					Profile:  pc.Profile,
					Endpoint: pc.Endpoint,
				}
			}
		}
		if err := registry.Load(name, settings); err != nil {
			return err
		}
	}
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s (yes/no): ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

func actionSymbol(action ir.Action) (symbol, color string) {
	switch action {
	case ir.ActionCreate:
		return "+", colorGreen
	case ir.ActionDelete:
		return "-", colorRed
	case ir.ActionReplace:
		return "-/+", colorYellow
	case ir.ActionUpdate:
		return "~", colorYellow
	default:
		return " ", colorReset
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol, color := actionSymbol(change.Action)
		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, strings.ToLower(string(change.Action)+"d"), colorReset)
		fmt.Printf("%s  %s %s {%s\n", color, symbol, change.Address, colorReset)
		renderAttributeDiff(change.Diff)
		fmt.Printf("%s  }%s\n", color, colorReset)
	}
}

func renderAttributeDiff(diff map[string]*ir.AttributeDiff) {
	for key, d := range diff {
		after := formatValue(d.After)
		if d.Unknown {
			after = "(known after apply)"
		}
		switch d.Action {
		case "create":
			fmt.Printf("%s      + %s = %s%s\n", colorGreen, key, after, colorReset)
		case "delete":
			fmt.Printf("%s      - %s = %s%s\n", colorRed, key, formatValue(d.Before), colorReset)
		case "update":
			fmt.Printf("%s      ~ %s = %s -> %s%s\n", colorYellow, key, formatValue(d.Before), after, colorReset)
		default:
			fmt.Printf("        %s = %s\n", key, after)
		}
	}
}

func renderPlanSummary(plan *ir.Plan) {
	fmt.Printf("\nPlan: %d to create, %d to update, %d to replace, %d to delete.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Replace, plan.Summary.Delete)
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

const timePrecision = 10 * time.Millisecond

// progressPrinter streams per-node apply events to stdout.
func progressPrinter(event engine.ApplyEvent) {
	switch event.Status {
	case "started":
		fmt.Printf("%s: %s...\n", event.Address, strings.ToLower(string(event.Action)))
	case "completed":
		fmt.Printf("%s: done (%s)\n", event.Address, event.Duration.Round(timePrecision))
	case "failed":
		fmt.Printf("%s%s: failed: %v%s\n", colorRed, event.Address, event.Error, colorReset)
	case "blocked":
		fmt.Printf("%s%s: blocked by failed dependency%s\n", colorYellow, event.Address, colorReset)
	}
}

// renderRunResult prints the apply outcome and maps it to an exit error.
func renderRunResult(result *engine.RunResult, plan *ir.Plan) error {
	applied, failed, blocked := 0, 0, 0
	for _, n := range result.Nodes {
		switch n.Status {
		case engine.StatusApplied:
			applied++
		case engine.StatusFailed:
			failed++
		case engine.StatusBlocked:
			blocked++
		}
	}

	switch result.Status {
	case engine.RunSucceeded:
		fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
			plan.Summary.Create, plan.Summary.Update+plan.Summary.Replace, plan.Summary.Delete)
		return nil
	case engine.RunCancelled:
		fmt.Printf("\nApply cancelled: %d completed before shutdown.\n", applied)
		return &ExitError{Code: ExitPartial, Err: fmt.Errorf("apply cancelled")}
	default:
		fmt.Printf("\nApply failed: %d completed, %d failed, %d blocked.\n", applied, failed, blocked)
		return &ExitError{Code: ExitPartial, Err: result.Err()}
	}
}
