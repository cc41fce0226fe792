// Package export writes ledger snapshots to spreadsheets.
package export

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/artifacts"
	"github.com/fiscalops/docharvest/internal/harvest"
)

const sheetName = "Requests"

var columns = []struct {
	header string
	width  float64
}{
	{"Company", 30},
	{"Registration", 20},
	{"Model", 10},
	{"Situation", 15},
	{"Status", 15},
	{"Initial Period", 15},
	{"Final Period", 15},
	{"File", 40},
	{"Documents", 12},
}

// Exporter dumps every ledger entry, joined with its company, into a
// timestamped workbook under the reports directory.
type Exporter struct {
	ledger   harvest.Ledger
	registry harvest.CompanyRegistry
	layout   artifacts.Layout
	clock    harvest.Clock
	logger   *zap.Logger
}

// New creates an Exporter.
func New(ledger harvest.Ledger, registry harvest.CompanyRegistry, layout artifacts.Layout, clock harvest.Clock, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		ledger:   ledger,
		registry: registry,
		layout:   layout,
		clock:    clock,
		logger:   logger,
	}
}

// Run writes the workbook and returns its path.
func (e *Exporter) Run(ctx context.Context) (string, error) {
	entries, err := e.ledger.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("list ledger entries: %w", err)
	}
	companies, err := e.registry.ListCompanies(ctx)
	if err != nil {
		return "", fmt.Errorf("list companies: %w", err)
	}
	byCode := make(map[int64]harvest.Company, len(companies))
	for _, c := range companies {
		byCode[c.Code] = c
	}

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // close after write is best-effort

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("drop default sheet: %w", err)
	}

	for i, col := range columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return "", fmt.Errorf("resolve column name: %w", err)
		}
		if err := f.SetColWidth(sheetName, name, name, col.width); err != nil {
			return "", fmt.Errorf("set column width: %w", err)
		}
		cell := fmt.Sprintf("%s1", name)
		if err := f.SetCellValue(sheetName, cell, col.header); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
	}

	for i, entry := range entries {
		company := byCode[entry.Key.CompanyCode]
		row := []interface{}{
			company.Name,
			company.RegistrationID,
			string(entry.Key.Model),
			string(entry.Key.Situation),
			string(entry.Status),
			entry.Key.Period.Initial.Format("2006-01-02"),
			entry.Key.Period.Final.Format("2006-01-02"),
			entry.FileName,
			entry.QuantityNotes,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return "", fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	dir, err := e.layout.ReportsDir()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("requests_%s.xlsx", e.clock.Now().Format("2006-01-02_15-04-05"))
	target := filepath.Join(dir, name)
	if err := f.SaveAs(target); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}

	e.logger.Info("Export finished",
		zap.String("path", target), zap.Int("rows", len(entries)))
	return target, nil
}
