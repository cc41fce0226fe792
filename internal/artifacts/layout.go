// Package artifacts lays out downloaded files and screenshots on disk.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fiscalops/docharvest/internal/harvest"
)

// Layout resolves on-disk locations under a fixed root. Artifacts are grouped
// by document model, then company code, then the month/year of the window's
// initial day. Directories are created on demand.
type Layout struct {
	root string
}

// New validates the root path and returns a Layout.
func New(root string) (Layout, error) {
	if strings.TrimSpace(root) == "" {
		return Layout{}, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Layout{}, fmt.Errorf("create storage root: %w", err)
	}
	return Layout{root: root}, nil
}

// Root returns the configured storage root.
func (l Layout) Root() string {
	return l.root
}

// DocumentDir returns (and creates) the directory holding downloads for key.
func (l Layout) DocumentDir(key harvest.RequestKey) (string, error) {
	dir := filepath.Join(
		l.root,
		string(key.Model),
		fmt.Sprintf("%d-", key.CompanyCode),
		monthYear(key.Period.Initial),
	)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	return dir, nil
}

// ScreenshotDir returns (and creates) the prints subdirectory for key.
func (l Layout) ScreenshotDir(key harvest.RequestKey) (string, error) {
	docDir, err := l.DocumentDir(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(docDir, "prints")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create prints dir: %w", err)
	}
	return dir, nil
}

// ScreenshotPath returns a fresh, unique path for one capture under key.
func (l Layout) ScreenshotPath(key harvest.RequestKey) (string, error) {
	dir, err := l.ScreenshotDir(key)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.png", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
	return filepath.Join(dir, name), nil
}

// ReportsDir returns (and creates) the directory for exported spreadsheets.
func (l Layout) ReportsDir() (string, error) {
	dir := filepath.Join(l.root, "reports")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	return dir, nil
}

func monthYear(t time.Time) string {
	return fmt.Sprintf("%02d%d", int(t.Month()), t.Year())
}
