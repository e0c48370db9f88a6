package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [config]",
	Short: "Print the dependency graph in DOT format",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}

	graph, err := engine.BuildGraph(engine.Expand(cfg.Resources))
	if err != nil {
		return err
	}

	fmt.Println("digraph stackform {")
	fmt.Println("  rankdir = \"LR\";")
	for _, addr := range graph.CreationOrder() {
		fmt.Printf("  %q;\n", addr)
		for _, dep := range graph.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}
	fmt.Println("}")
	return nil
}
