package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [config]",
	Short: "Check the configuration for structural errors",
	Long: `Parses the configuration and builds the dependency graph without
touching any provider or state backend. Catches missing fields,
duplicate identities, unresolved references and dependency cycles.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}

	resources := engine.Expand(cfg.Resources)
	if _, err := engine.BuildGraph(resources); err != nil {
		return err
	}

	fmt.Printf("Configuration valid: %d resources.\n", len(resources))
	return nil
}
