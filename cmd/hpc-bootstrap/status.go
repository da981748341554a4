package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/hpc-bootstrap/pkg/config"
	"github.com/cuemby/hpc-bootstrap/pkg/role"
	"github.com/cuemby/hpc-bootstrap/pkg/storage"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded bootstrap runs",
	Long: `Print the last bootstrap run recorded on this node as YAML, with every
state it went through. While a bootstrap is running the state database is
locked and status reports that instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		stateDir := config.FromEnvironment().Optional(config.KeyStateDir, config.DefaultStateDir)

		store, err := storage.OpenReadOnly(stateDir, storage.DefaultLockTimeout)
		if errors.Is(err, storage.ErrLocked) {
			fmt.Fprintln(cmd.OutOrStdout(), "A bootstrap is running on this node")
			return nil
		}
		if err != nil {
			return err
		}
		defer store.Close()

		var runs []*types.Run
		if all {
			runs, err = store.ListRuns()
		} else {
			var last *types.Run
			last, err = store.LastRun()
			runs = []*types.Run{last}
		}
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs)
	},
}

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Print the role this node's hostname maps to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hostname, nodeRole, err := role.Current()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", hostname, nodeRole, nodeRole.DaemonName())
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("all", false, "Show every kept run, oldest first")
}

func printRuns(w io.Writer, runs []*types.Run) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, run := range runs {
		if err := enc.Encode(run); err != nil {
			return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
		}
	}
	return enc.Close()
}
