// Package audit prunes ledger entries that no longer belong to an active
// company.
package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/harvest"
)

// Auditor removes ledger entries for inactive or unknown companies.
type Auditor struct {
	ledger   harvest.Ledger
	registry harvest.CompanyRegistry
	logger   *zap.Logger
}

// New creates an Auditor.
func New(ledger harvest.Ledger, registry harvest.CompanyRegistry, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{ledger: ledger, registry: registry, logger: logger}
}

// RemoveInactive deletes every entry whose company is inactive or missing
// from the registry and returns the number of removed entries. Individual
// delete failures are logged and skipped so one bad row never stops the
// sweep.
func (a *Auditor) RemoveInactive(ctx context.Context) (int, error) {
	entries, err := a.ledger.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list ledger entries: %w", err)
	}
	companies, err := a.registry.ListCompanies(ctx)
	if err != nil {
		return 0, fmt.Errorf("list companies: %w", err)
	}
	active := make(map[int64]bool, len(companies))
	for _, c := range companies {
		active[c.Code] = c.Active
	}

	removed := 0
	for _, entry := range entries {
		if active[entry.Key.CompanyCode] {
			continue
		}
		if err := a.ledger.Delete(ctx, entry.Key); err != nil {
			a.logger.Error("Failed to remove entry",
				zap.String("key", entry.Key.String()), zap.Error(err))
			continue
		}
		removed++
		a.logger.Info("Removed entry of inactive company",
			zap.String("key", entry.Key.String()))
	}

	a.logger.Info("Audit finished",
		zap.Int("scanned", len(entries)), zap.Int("removed", removed))
	return removed, nil
}
