package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	Build   = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inbetweenies",
	Short: "inbetweenies - a bidirectional, offline-capable smart-home graph sync node",
	Long:  `A node in an Inbetweenies mesh: stores a versioned entity/relationship graph, syncs it with peers, and answers MCP-style tool calls against it.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("inbetweenies version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to node config.yaml")
	rootCmd.Flags().Bool("version", false, "print version and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
