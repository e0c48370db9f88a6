package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var taintCmd = &cobra.Command{
	Use:   "taint ADDRESS",
	Short: "Mark a resource for replacement on the next apply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTainted(cmd, args[0], true)
	},
}

var untaintCmd = &cobra.Command{
	Use:   "untaint ADDRESS",
	Short: "Clear the replacement mark from a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTainted(cmd, args[0], false)
	},
}

func setTainted(cmd *cobra.Command, addr string, tainted bool) error {
	ctx := cmd.Context()

	cfg, baseDir, err := loadConfig(nil)
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

	entry := st.Find(addr)
	if entry == nil {
		return fmt.Errorf("resource %s not found in state", addr)
	}
	if entry.Tainted == tainted {
		if tainted {
			fmt.Printf("Resource %s is already tainted.\n", addr)
		} else {
			fmt.Printf("Resource %s is not tainted.\n", addr)
		}
		return &ExitError{Code: ExitNothingToDo}
	}

	entry.Tainted = tainted
	st.Revision++
	if err := backend.Write(ctx, st); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	if tainted {
		fmt.Printf("Resource %s has been marked as tainted.\n", addr)
	} else {
		fmt.Printf("Resource %s has been unmarked as tainted.\n", addr)
	}
	return nil
}
