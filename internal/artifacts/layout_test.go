package artifacts

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalops/docharvest/internal/harvest"
)

func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout, err := New(root)
	require.NoError(t, err)

	key := harvest.RequestKey{
		CompanyCode: 42,
		Model:       harvest.ModelNFCe,
		Situation:   harvest.SituationAuthorized,
		Period: harvest.Period{
			Initial: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Final:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	dir, err := layout.DocumentDir(key)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "NFC-e", "42-", "032024"), dir)
	assert.DirExists(t, dir)

	prints, err := layout.ScreenshotDir(key)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "prints"), prints)

	shot, err := layout.ScreenshotPath(key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(shot, prints))
	assert.True(t, strings.HasSuffix(shot, ".png"))

	reports, err := layout.ReportsDir()
	require.NoError(t, err)
	assert.DirExists(t, reports)
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	t.Parallel()

	_, err := New("  ")
	require.Error(t, err)
}
