// This file implements the rebuild command for repairing index coverage.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the hierarchical index from durable storage",
	Long: `Rescan every stored episode into the hierarchical index. Run this
after a degraded write to restore full index coverage.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := eng.RebuildIndex(ctx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "index rebuilt")
	return nil
}
