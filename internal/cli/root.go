package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "stackform",
	Short: "Declarative reconciliation for AWS remote-state infrastructure",
	Long: `Stackform reconciles declared resources against recorded state.

It plans the minimal set of creates, updates and deletes to reach the
declared configuration, applies them in dependency order with bounded
concurrency, and records the result in a versioned state document backed
by a local file or an S3 bucket with DynamoDB locking.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with a cancellable context so an
// interrupt stops dispatching new work.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(taintCmd)
	rootCmd.AddCommand(untaintCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}
