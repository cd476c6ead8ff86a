package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/inbetweenies/graphsync/internal/dispatcher"
)

var toolCmd = &cobra.Command{
	Use:   "tool <name>",
	Short: "Invoke one MCP-style tool against this node's graph, reading JSON arguments from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		n, err := openNode(ctx, configPath)
		if err != nil {
			return err
		}
		defer n.Close()

		body, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read arguments from stdin: %w", err)
		}
		if len(body) == 0 {
			body = []byte("{}")
		}

		res := n.disp.Dispatch(ctx, dispatcher.ToolName(args[0]), json.RawMessage(body))
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Println(string(out))
		if !res.Success {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolCmd)
}
