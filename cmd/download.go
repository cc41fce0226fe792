package cmd

import (
	"github.com/spf13/cobra"
)

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Runs the download poller",
		Long: `Polls the request ledger for queued entries whose files have not
been fetched yet and drives each through the portal download flow.
Runs until interrupted.`,
		RunE: runDownloadCommand,
	}
}

func runDownloadCommand(cmd *cobra.Command, _ []string) error {
	application, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	sched := newHarvestScheduler(application)
	sched.RunDownloadJob(cmd.Context())
	application.Logger().Info("Download command finished")
	return nil
}
