// Package application assembles the service from configuration. Both
// binaries go through New so the server and the CLI share one wiring.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/ghgledger/internal/archive"
	"github.com/JonMunkholm/ghgledger/internal/config"
	"github.com/JonMunkholm/ghgledger/internal/core"
	_ "github.com/JonMunkholm/ghgledger/internal/core/adapters" // register format adapters
	"github.com/JonMunkholm/ghgledger/internal/store"
	"github.com/JonMunkholm/ghgledger/internal/telemetry"
)

// Version is reported on traces. Overridden at build time with -ldflags.
var Version = "dev"

// App holds the wired service and everything that must be closed with it.
type App struct {
	Config   *config.Config
	Service  *core.Service
	Archive  archive.Store
	Registry *prometheus.Registry
	Ping     func(ctx context.Context) error

	closers []func(context.Context) error
}

// New opens the store and archive, installs tracing and builds the service.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config) (app *App, err error) {
	app = &App{Config: cfg, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Version:     Version,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	app.closers = append(app.closers, shutdownTracing)

	opened, err := store.Open(ctx, store.Options{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.StoreURL(),
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.closers = append(app.closers, func(context.Context) error {
		opened.Close()
		return nil
	})
	app.Ping = opened.Ping
	slog.Info("store opened", "driver", cfg.Database.Driver)

	arch, err := archive.Open(ctx, archive.Config{
		Driver:          cfg.Archive.Driver,
		Dir:             cfg.Archive.Dir,
		Bucket:          cfg.Archive.Bucket,
		Region:          cfg.Archive.Region,
		Endpoint:        cfg.Archive.Endpoint,
		PathStyle:       cfg.Archive.PathStyle,
		AccessKeyID:     cfg.Archive.AccessKeyID,
		SecretAccessKey: cfg.Archive.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	app.Archive = arch

	options := []core.Option{core.WithMetrics(core.NewMetrics(app.Registry))}
	if arch != nil {
		options = append(options, core.WithArchive(arch))
		slog.Info("upload archive enabled", "driver", cfg.Archive.Driver)
	}

	app.Service, err = core.NewService(opened.Store, core.Options{
		MaxReportedErrors:     cfg.Upload.MaxReportedErrors,
		PreviewReadRows:       cfg.Upload.PreviewReadRows,
		PreviewCheckRows:      cfg.Upload.PreviewCheckRows,
		PreviewSampleRows:     cfg.Upload.PreviewSampleRows,
		DefaultDatasetVersion: cfg.Upload.DefaultDatasetVersion,
		MaxConcurrentCommits:  cfg.Upload.MaxConcurrent,
		CommitWait:            cfg.Upload.MaxWaitTime,
		CommitTimeout:         cfg.Upload.Timeout,
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
