package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/export"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Exports the request ledger to a spreadsheet",
		RunE:  runExportCommand,
	}
}

func runExportCommand(cmd *cobra.Command, _ []string) error {
	application, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	exporter := export.New(
		application.Ledger(),
		application.Registry(),
		application.Layout(),
		application.Clock(),
		application.Logger().Named("export"),
	)
	path, err := exporter.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("export requests: %w", err)
	}
	application.Logger().Info("Export written", zap.String("path", path))
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
