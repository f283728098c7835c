package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReportStoreCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "reports")

	_, err := NewReportStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPathFor(t *testing.T) {
	dir := t.TempDir()
	store, err := NewReportStore(dir)
	require.NoError(t, err)

	date := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, filepath.Join(dir, "digest_2025-06-02.pdf"), store.PathFor(date))

	// The name depends only on the date, not the time of day.
	later := time.Date(2025, 6, 2, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, store.PathFor(date), store.PathFor(later))
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewReportStore(dir)
	require.NoError(t, err)

	path := store.PathFor(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))
	content := []byte("%PDF-1.7 test bytes")

	require.NoError(t, store.Write(path, content))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may survive a successful write")
}

func TestWriteOverwrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewReportStore(dir)
	require.NoError(t, err)

	path := store.PathFor(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))

	require.NoError(t, store.Write(path, []byte("first")))
	require.NoError(t, store.Write(path, []byte("second")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
