package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs discovery, download, and maintenance in one process",
		Long: `Hosts all three jobs and the status API in a single process:
the discovery cron, the download poll loop, and certificate store
maintenance. Suitable for small installations; larger ones split
discovery and download into separate processes with the discover and
download commands.`,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	application, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := application.Logger()
	sched := newHarvestScheduler(application)

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	srv := startStatusAPI(application, logger, stop)

	err = sched.Run(ctx)
	stopStatusAPI(srv, logger)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run scheduler: %w", err)
	}
	logger.Info("Run command finished")
	return nil
}
