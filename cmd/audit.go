package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/audit"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Removes ledger entries for inactive companies",
		RunE:  runAuditCommand,
	}
}

func runAuditCommand(cmd *cobra.Command, _ []string) error {
	application, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	auditor := audit.New(application.Ledger(), application.Registry(), application.Logger().Named("audit"))
	removed, err := auditor.RemoveInactive(cmd.Context())
	if err != nil {
		return fmt.Errorf("audit ledger: %w", err)
	}
	application.Logger().Info("Audit finished", zap.Int("removed", removed))
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
	return nil
}
