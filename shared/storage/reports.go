// Package storage owns the report artifacts on disk. Nothing else is
// persisted across runs.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReportStore writes rendered reports into a fixed output directory. File
// names derive from the run date only, so a rerun on the same day replaces
// that day's artifact.
type ReportStore struct {
	dir string
}

// NewReportStore creates the output directory if needed.
func NewReportStore(dir string) (*ReportStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &ReportStore{dir: dir}, nil
}

// PathFor returns the deterministic report path for a run date.
func (s *ReportStore) PathFor(date time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("digest_%s.pdf", date.Format("2006-01-02")))
}

// Write lands the rendered bytes at path through a temp file and rename, so
// a crashed run never leaves a truncated report at the final path.
func (s *ReportStore) Write(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".digest-*.pdf")
	if err != nil {
		return fmt.Errorf("failed to create temp report file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close report file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}
