package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/api"
	"github.com/scoutlab/scholarhunt/internal/app"
	"github.com/scoutlab/scholarhunt/internal/config"
	"github.com/scoutlab/scholarhunt/internal/coordinator"
	"github.com/scoutlab/scholarhunt/internal/pipeline"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface that commands use. It exists so
// tests can inject a stub container.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Coordinator() *coordinator.Coordinator
	Runner() *pipeline.Runner
	Server() *api.Server
}

// newApp is the application factory. It is a variable so tests can
// replace it with a stub.
var newApp = func() (App, error) {
	return app.NewApp(cfgFile)
}

// newRootCmd creates and configures the root command. The container is
// built in PersistentPreRunE, after flags are parsed, and injected into
// the command context for subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scholarhunt",
		Short: "Discovers academic PhD and PostDoc openings",
		Long: `scholarhunt scans configured job portals and faculty pages for open
PhD and PostDoc positions, tracks which postings are new versus still
open, and mails a digest of the results. Runs are serialized through a
file lock so cron, the CLI, and the dashboard never overlap.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp()
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults plus SCHOLARHUNT_* env)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
