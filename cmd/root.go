// Package cmd defines the CLI commands for the docharvest executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fiscalops/docharvest/internal/app"
	"github.com/fiscalops/docharvest/internal/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType struct{}

// newApp is the application factory. It is a variable so tests can replace
// it with a fake.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docharvest",
		Short: "Retrieves fiscal documents from the state portal on a schedule",
		Long: `docharvest plans retrieval periods, tracks every
(company, model, situation, period) combination in a persistent ledger,
and drives a browser session through the public consultation portal to
locate and download document archives.`,

		// Runs after flags are parsed and before the subcommand's RunE.
		// Builds the service graph and injects it into the context, so a
		// bad config or unreachable provider fails the process here.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			application, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, application))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if application, ok := cmd.Context().Value(appKeyType{}).(*app.App); ok && application != nil {
				application.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables used when empty)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newAuditCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	application, ok := ctx.Value(appKeyType{}).(*app.App)
	if !ok || application == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return application, nil
}

// Execute is the main entry point.
func Execute(ctx context.Context) {
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "docharvest: %v\n", err)
		os.Exit(1)
	}
}
