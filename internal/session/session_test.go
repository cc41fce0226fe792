package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalops/docharvest/internal/artifacts"
	"github.com/fiscalops/docharvest/internal/harvest"
)

func TestSituationOption(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2", situationOption(harvest.SituationAuthorized))
	assert.Equal(t, "3", situationOption(harvest.SituationCancelled))
}

func TestModelOption(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "55", modelOption(harvest.ModelNFe))
	assert.Equal(t, "57", modelOption(harvest.ModelCTe))
	assert.Equal(t, "65", modelOption(harvest.ModelNFCe))
}

func TestRowSelectorMatchesFileOrFirstRow(t *testing.T) {
	t.Parallel()

	s := &Session{}
	assert.Contains(t, s.rowSelector("notas.zip"), `contains(., "notas.zip")`)
	assert.Equal(t, `//table[contains(@class, "tablesorter")]/tbody/tr[1]`, s.rowSelector(""))
}

func TestFinalizeDownloadRenamesToPortalName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guid-1234"), []byte("zip"), 0o644))

	s := &Session{}
	got, err := s.finalizeDownload(dir, "guid-1234", "notas.zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notas.zip"), got)
	assert.FileExists(t, got)
	assert.NoFileExists(t, filepath.Join(dir, "guid-1234"))
}

func TestFinalizeDownloadKeepsNameWithoutPortalName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "archive.zip"), []byte("zip"), 0o644))

	s := &Session{}
	got, err := s.finalizeDownload(dir, "archive.zip", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "archive.zip"), got)
}

func TestFinalizeDownloadRejectsEmptyName(t *testing.T) {
	t.Parallel()

	s := &Session{}
	_, err := s.finalizeDownload(t.TempDir(), "", "notas.zip")
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	s := New(Config{}, mustLayout(t), nil)
	t.Cleanup(s.Close)

	assert.Equal(t, defaultPortalURL, s.cfg.PortalURL)
	assert.Equal(t, defaultSearchTimeout, s.cfg.SearchTimeout)
	assert.Equal(t, defaultCaptchaToken, s.cfg.CaptchaToken)
}

func mustLayout(t *testing.T) artifacts.Layout {
	t.Helper()
	layout, err := artifacts.New(t.TempDir())
	require.NoError(t, err)
	return layout
}
