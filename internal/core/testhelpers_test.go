package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/JonMunkholm/ghgledger/internal/core"
	_ "github.com/JonMunkholm/ghgledger/internal/core/adapters"
	"github.com/JonMunkholm/ghgledger/internal/store/memory"
)

var globalSectorHeaders = []string{
	"iso3_country", "start_time", "sector", "subsector",
	"emissions_quantity", "emissions_quantity_units", "temporal_granularity", "gas",
}

var operatorHeaders = []string{"Facility Name", "Year", "CO2e Tonnes", "Source", "Method", "Notes"}

// upload builds an Upload the way rowsource would: records keyed by
// normalized header.
func upload(headers []string, rows ...[]string) core.Upload {
	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = core.NormalizeHeader(h)
	}
	recs := make([]core.Record, len(rows))
	for i, row := range rows {
		rec := make(core.Record, len(keys))
		for j, k := range keys {
			if j < len(row) {
				rec[k] = row[j]
			} else {
				rec[k] = ""
			}
		}
		recs[i] = rec
	}
	return core.Upload{
		Filename: "emissions.csv",
		Checksum: "deadbeef",
		Headers:  headers,
		Rows:     recs,
		Raw:      []byte("raw"),
	}
}

func newService(t *testing.T, st core.Store, opts core.Options, options ...core.Option) *core.Service {
	t.Helper()
	svc, err := core.NewService(st, opts, options...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func registerFacility(t *testing.T, svc *core.Service, name, sector string) core.Facility {
	t.Helper()
	f, err := svc.RegisterFacility(context.Background(), core.Facility{Name: name, SectorID: sector})
	if err != nil {
		t.Fatalf("RegisterFacility(%q): %v", name, err)
	}
	return f
}

func commit(t *testing.T, svc *core.Service, up core.Upload, opts core.CommitOptions) *core.ImportReport {
	t.Helper()
	if opts.DatasetName == "" {
		opts.DatasetName = "test"
	}
	report, err := svc.Commit(context.Background(), up, opts)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if report.Accounted() != report.RowsTotal {
		t.Fatalf("row accounting broken: accounted %d of %d (%+v)", report.Accounted(), report.RowsTotal, report)
	}
	return report
}

// withAdapter registers a for the duration of the test.
func withAdapter(t *testing.T, a core.Adapter) {
	t.Helper()
	saved := core.All()
	core.Register(a)
	t.Cleanup(func() {
		core.Clear()
		for _, s := range saved {
			core.Register(s)
		}
	})
}

// failingStore fails every observation insert.
type failingStore struct {
	*memory.Store
}

var errDiskFull = errors.New("disk full")

func (failingStore) InsertObservation(context.Context, core.Observation) (bool, error) {
	return false, errDiskFull
}

// recordingArchive is an in-test Archiver.
type recordingArchive struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (a *recordingArchive) Put(_ context.Context, key string, _ []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.keys = append(a.keys, key)
	return nil
}
