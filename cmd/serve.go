package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP search
// service until the process receives SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP search service",
		Long: `Serves the search API over HTTP. The server exposes POST /v1/search
plus health and metrics endpoints, probes the portal in the background, and
drains in-flight searches on shutdown.`,

		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	svc, err := resolveService(cmd.Context())
	if err != nil {
		return err
	}

	if err := svc.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run server: %w", err)
	}

	svc.Logger().Info("server stopped")
	return nil
}
