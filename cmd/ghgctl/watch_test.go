package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImportable(t *testing.T) {
	for name, want := range map[string]bool{
		"emissions.csv":      true,
		"EMISSIONS.CSV":      true,
		"report.xlsx":        true,
		"macro.xlsm":         true,
		"legacy.xls":         false,
		"notes.txt":          false,
		".hidden.csv":        false,
		"~$lock.xlsx":        false,
		"/drop/nested/a.csv": true,
		"/drop/Uploaded":     false,
	} {
		assert.Equal(t, want, isImportable(name), name)
	}
}

func TestImportableListsSortedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "x")
	writeFile(t, dir, "a.xlsx", "x")
	writeFile(t, dir, "skip.txt", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.csv"), 0o755))

	got, err := importable(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.xlsx"), filepath.Join(dir, "b.csv")}, got)
}

func TestMoveToUploaded(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.csv", "data")

	dest, err := moveToUploaded(src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, uploadedDirName, "a.csv"), dest)
	assert.NoFileExists(t, src)
	assert.FileExists(t, dest)
}

func TestDropWatcher(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "existing.csv", "data")
	writeFile(t, dir, "broken.csv", "data")

	var (
		mu   sync.Mutex
		seen []string
	)
	w := &dropWatcher{
		dir:      dir,
		debounce: 20 * time.Millisecond,
		ingest: func(_ context.Context, path string) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, filepath.Base(path))
			if filepath.Base(path) == "broken.csv" {
				return errors.New("bad file")
			}
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	uploaded := filepath.Join(dir, uploadedDirName)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(uploaded, "existing.csv"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "files present at start are imported")
	assert.FileExists(t, filepath.Join(dir, "broken.csv"), "failed imports stay in place")

	writeFile(t, dir, "new.csv", "data")
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(uploaded, "new.csv"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "dropped files are imported")

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"broken.csv", "existing.csv", "new.csv"}, seen)
}
