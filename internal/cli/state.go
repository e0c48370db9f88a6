package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify the recorded state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the addresses of all resources in state",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show ADDRESS",
	Short: "Show the recorded entry for one resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm ADDRESS",
	Short: "Forget a resource without deleting it remotely",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, baseDir, err := loadConfig(nil)
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

	var addrs []string
	for _, entry := range st.Resources {
		addrs = append(addrs, entry.Addr())
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		fmt.Println(addr)
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, baseDir, err := loadConfig(nil)
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

	entry := st.Find(args[0])
	if entry == nil {
		return fmt.Errorf("resource %s not found in state", args[0])
	}
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
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
	if st.Find(args[0]) == nil {
		return fmt.Errorf("resource %s not found in state", args[0])
	}

	st.Remove(args[0])
	st.Revision++
	if err := backend.Write(ctx, st); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Removed %s from state. The remote resource is untouched.\n", args[0])
	return nil
}
