package main

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inbetweenies/graphsync/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this node's HTTP sync and tool-dispatch server until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		n, err := openNode(ctx, configPath)
		if err != nil {
			return err
		}
		defer n.Close()

		api := httpapi.New(n.engine, n.disp, n.store, n.cfg.HTTP.Listen, n.cfg.HTTP.Token)
		fmt.Printf("inbetweenies: node %q listening on %s\n", n.cfg.Node.ID, n.cfg.HTTP.Listen)
		if err := api.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
