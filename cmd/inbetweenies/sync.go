package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one client-side sync cycle against remote.url",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		n, err := openNode(ctx, configPath)
		if err != nil {
			return err
		}
		defer n.Close()

		if n.cfg.Remote.URL == "" {
			return fmt.Errorf("sync: remote.url is not configured")
		}

		result, err := n.engine.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}
		fmt.Printf("sync: sent %d, received %d, conflicts %d\n", result.Sent, result.Received, len(result.Conflicts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
