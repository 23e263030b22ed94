package core

import (
	"context"
	"time"
)

// Store is the persistence boundary used by the pipeline and analytics.
//
// Implementations live under internal/store. Lookups that find nothing
// return ErrNotFound (wrapped or bare).
type Store interface {
	GetOrCreateDataset(ctx context.Context, name, source, versionTag string) (Dataset, error)

	CreateImportJob(ctx context.Context, job ImportJob) error
	FinalizeImportJob(ctx context.Context, id string, status JobStatus, stats ImportStats, errs []RowError, finishedAt time.Time) error
	GetImportJob(ctx context.Context, id string) (ImportJob, error)
	ListImportJobs(ctx context.Context, datasetID string) ([]ImportJob, error)

	// EnsureSector inserts the sector if absent and never modifies an existing one.
	EnsureSector(ctx context.Context, sector Sector) error

	CreateFacility(ctx context.Context, f Facility) (Facility, error)
	// GetOrCreateFacility matches on the exact (case-sensitive) name.
	GetOrCreateFacility(ctx context.Context, f Facility) (Facility, error)
	FindFacilityByName(ctx context.Context, name string) (Facility, error)
	GetFacility(ctx context.Context, id string) (Facility, error)
	ListFacilitiesBySector(ctx context.Context, sectorID string) ([]Facility, error)

	// InsertObservation writes obs unless its key already exists.
	// Returns false without error when the key was taken.
	InsertObservation(ctx context.Context, obs Observation) (bool, error)

	// ReplaceObservationIfNewer overwrites the row at obs.Key() only when the
	// stored dataset version compares strictly less than obs.DatasetVersion.
	// The comparison happens inside the store so concurrent writers cannot
	// regress a newer version. Scope is overwritten only when replaceScope is set.
	ReplaceObservationIfNewer(ctx context.Context, obs Observation, replaceScope bool) (bool, error)

	GetObservation(ctx context.Context, key ObservationKey) (Observation, error)
	ListObservations(ctx context.Context, filter ObservationFilter) ([]Observation, error)
}

// ObservationFilter narrows ListObservations. Zero values mean "any".
type ObservationFilter struct {
	FacilityIDs []string
	Source      Source
	Year        int
}
