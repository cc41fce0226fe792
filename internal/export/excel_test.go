package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fiscalops/docharvest/internal/artifacts"
	"github.com/fiscalops/docharvest/internal/harvest"
	"github.com/fiscalops/docharvest/internal/ledger/memory"
)

type staticRegistry struct {
	companies []harvest.Company
}

func (r staticRegistry) ListCompanies(context.Context) ([]harvest.Company, error) {
	return r.companies, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func TestRunWritesWorkbook(t *testing.T) {
	t.Parallel()

	layout, err := artifacts.New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	store := memory.NewStore()
	key := harvest.RequestKey{
		CompanyCode: 42,
		Model:       harvest.ModelNFe,
		Situation:   harvest.SituationAuthorized,
		Period: harvest.Period{
			Initial: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Final:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, store.RecordLinkFound(ctx, key, "http://x", "notas.zip"))

	registry := staticRegistry{companies: []harvest.Company{
		{Code: 42, Name: "Acme", RegistrationID: "11222333000181", Active: true},
	}}
	clock := fixedClock{now: time.Date(2024, 5, 16, 10, 30, 0, 0, time.UTC)}

	exporter := New(store, registry, layout, clock, nil)
	path, err := exporter.Run(ctx)
	require.NoError(t, err)
	assert.Contains(t, path, "requests_2024-05-16_10-30-00.xlsx")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck // read-only

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Company", rows[0][0])
	assert.Equal(t, "Acme", rows[1][0])
	assert.Equal(t, "11222333000181", rows[1][1])
	assert.Equal(t, "NF-e", rows[1][2])
	assert.Equal(t, "2024-01-01", rows[1][5])
	assert.Equal(t, "notas.zip", rows[1][7])
}

func TestRunWithEmptyLedgerWritesHeaderOnly(t *testing.T) {
	t.Parallel()

	layout, err := artifacts.New(t.TempDir())
	require.NoError(t, err)

	exporter := New(memory.NewStore(), staticRegistry{}, layout, fixedClock{now: time.Now()}, nil)
	path, err := exporter.Run(context.Background())
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck // read-only

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
