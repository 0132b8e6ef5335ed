// Package cmd defines the CLI commands for the search service executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/app"
	"github.com/vlikcc/yargisalzekav2/internal/config"
	"github.com/vlikcc/yargisalzekav2/internal/search"
)

var cfgFile string

// serviceKeyType is the key for storing the Service in the command context.
type serviceKeyType string

const serviceKey serviceKeyType = "service"

// Service is the slice of the application that commands consume. The
// indirection lets tests substitute a fake for the real container.
type Service interface {
	Run(ctx context.Context) error
	Close(ctx context.Context)
	Search(ctx context.Context, req search.Request) (search.Result, error)
	Logger() *zap.Logger
}

// newService is the application factory. It is a variable so tests can
// replace it with a fake factory.
var newService = func(ctx context.Context) (Service, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command. The application
// container is built once in PersistentPreRunE and stored in the command
// context for subcommands; PersistentPostRun tears it down.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yargisalzeka",
		Short: "Keyword search service for the Yargıtay decision portal.",
		Long: `yargisalzeka searches the public Yargıtay decision portal for a set of
keywords concurrently, deduplicates the matching decisions, and returns one
aggregated result set. It runs either as an HTTP service (serve) or as a
one-shot command line search (search).`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), serviceKey, svc))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if svc, ok := cmd.Context().Value(serviceKey).(Service); ok && svc != nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				svc.Close(closeCtx)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YARGI_* env vars override)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())

	return cmd
}

// resolveService retrieves the container placed in the context by the root
// command's PersistentPreRunE.
func resolveService(ctx context.Context) (Service, error) {
	svc, ok := ctx.Value(serviceKey).(Service)
	if !ok || svc == nil {
		return nil, errors.New("application services not initialized")
	}
	return svc, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so serve drains gracefully.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
