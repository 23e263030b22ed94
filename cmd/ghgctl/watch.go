package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// uploadedDirName is where processed files are moved, inside the watched directory.
const uploadedDirName = "Uploaded"

func (c *cli) watchCmd() *cobra.Command {
	var (
		flags    commitFlags
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Commit every csv or xlsx file dropped into DIR, then move it to DIR/" + uploadedDirName,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options()
			w := &dropWatcher{
				dir:      args[0],
				debounce: debounce,
				ingest: func(ctx context.Context, path string) error {
					up, err := c.readFile(path, flags.sheet)
					if err != nil {
						return err
					}
					report, err := c.app.Service.Commit(ctx, up, opts)
					if err != nil {
						return err
					}
					return c.print(cmd, report)
				},
			}
			return w.run(cmd.Context())
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period after the last write before a file is imported")
	return cmd
}

// dropWatcher imports files from a directory once they stop changing.
type dropWatcher struct {
	dir      string
	debounce time.Duration
	ingest   func(ctx context.Context, path string) error
}

func (w *dropWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	slog.Info("watching for uploads", "dir", w.dir, "debounce", w.debounce)

	// Files already present are imported first.
	pending, err := importable(w.dir)
	if err != nil {
		return err
	}
	for _, path := range pending {
		w.process(ctx, path)
	}

	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isImportable(event.Name) {
				continue
			}
			path := event.Name
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})
		case path := <-ready:
			delete(timers, path)
			w.process(ctx, path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "error", err)
		}
	}
}

// process imports one file. Files that fail stay where they are so they can
// be fixed and dropped again.
func (w *dropWatcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := w.ingest(ctx, path); err != nil {
		slog.Error("import failed", "file", filepath.Base(path), "error", err)
		return
	}
	moved, err := moveToUploaded(path)
	if err != nil {
		slog.Error("move imported file", "file", filepath.Base(path), "error", err)
		return
	}
	slog.Info("imported", "file", filepath.Base(path), "moved_to", moved)
}

// moveToUploaded moves path into the Uploaded directory next to it and
// returns the new location.
func moveToUploaded(path string) (string, error) {
	uploadedDir := filepath.Join(filepath.Dir(path), uploadedDirName)
	if err := os.MkdirAll(uploadedDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(uploadedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// importable lists the files in dir that watch would import, by name.
func importable(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isImportable(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func isImportable(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".csv", ".xlsx", ".xlsm":
		return true
	}
	return false
}
