// Package store selects a core.Store implementation from configuration.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/store/memory"
	"github.com/JonMunkholm/ghgledger/internal/store/postgres"
	"github.com/JonMunkholm/ghgledger/internal/store/sqlite"
)

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Options configures Open. URL is the Postgres DSN or the SQLite file path.
type Options struct {
	Driver          string
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Opened is an open store plus its shutdown and health hooks.
type Opened struct {
	Store core.Store
	Close func()
	Ping  func(ctx context.Context) error
}

// Open connects to the configured backend and applies its schema.
func Open(ctx context.Context, opts Options) (*Opened, error) {
	switch opts.Driver {
	case DriverPostgres, "":
		s, err := postgres.Open(ctx, postgres.Config{
			URL:             opts.URL,
			MaxConns:        opts.MaxConns,
			MinConns:        opts.MinConns,
			MaxConnLifetime: opts.MaxConnLifetime,
			MaxConnIdleTime: opts.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		return &Opened{Store: s, Close: s.Close, Ping: s.Pool().Ping}, nil

	case DriverSQLite:
		s, err := sqlite.Open(ctx, opts.URL)
		if err != nil {
			return nil, err
		}
		return &Opened{Store: s, Close: func() { _ = s.Close() }, Ping: s.DB().PingContext}, nil

	case DriverMemory:
		return &Opened{
			Store: memory.New(),
			Close: func() {},
			Ping:  func(context.Context) error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", core.ErrInvalidArgument, opts.Driver)
	}
}
