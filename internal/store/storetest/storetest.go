// Package storetest is a conformance suite shared by every core.Store implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) core.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Datasets", func(t *testing.T) { testDatasets(t, newStore(t)) })
	t.Run("ImportJobs", func(t *testing.T) { testImportJobs(t, newStore(t)) })
	t.Run("Facilities", func(t *testing.T) { testFacilities(t, newStore(t)) })
	t.Run("ObservationInsert", func(t *testing.T) { testObservationInsert(t, newStore(t)) })
	t.Run("ObservationReplace", func(t *testing.T) { testObservationReplace(t, newStore(t)) })
	t.Run("ObservationList", func(t *testing.T) { testObservationList(t, newStore(t)) })
}

func testDatasets(t *testing.T, st core.Store) {
	ctx := context.Background()

	a, err := st.GetOrCreateDataset(ctx, "trace", "global_sector", "v1")
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)

	b, err := st.GetOrCreateDataset(ctx, "trace", "global_sector", "v1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "same triple must return the same dataset")

	c, err := st.GetOrCreateDataset(ctx, "trace", "global_sector", "v2")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func testImportJobs(t *testing.T, st core.Store) {
	ctx := context.Background()

	ds, err := st.GetOrCreateDataset(ctx, "ops", "operator_generic", "v1")
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	first := core.ImportJob{
		ID:             uuid.NewString(),
		DatasetID:      ds.ID,
		Filename:       "a.csv",
		ChecksumSHA256: "abc",
		Adapter:        "operator_generic",
		HeaderMap:      map[string]string{"year": "year"},
		Status:         core.JobPending,
		CreatedAt:      base,
	}
	second := first
	second.ID = uuid.NewString()
	second.Filename = "b.csv"
	second.CreatedAt = base.Add(time.Second)

	require.NoError(t, st.CreateImportJob(ctx, second))
	require.NoError(t, st.CreateImportJob(ctx, first))

	got, err := st.GetImportJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, got.Status)
	assert.Nil(t, got.FinishedAt)
	assert.Equal(t, "year", got.HeaderMap["year"])

	stats := core.ImportStats{RowsTotal: 3, RowsImported: 1, Duplicates: 1, Invalid: 1}
	errs := []core.RowError{{Row: 2, Reason: core.ReasonBadYear, Meta: map[string]any{"year": "20x1"}}}
	require.NoError(t, st.FinalizeImportJob(ctx, first.ID, core.JobCompleted, stats, errs, base.Add(2*time.Second)))

	got, err = st.GetImportJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, got.Status)
	assert.Equal(t, stats, got.Stats)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, core.ReasonBadYear, got.Errors[0].Reason)
	require.NotNil(t, got.FinishedAt)

	err = st.FinalizeImportJob(ctx, first.ID, core.JobFailed, stats, nil, time.Now())
	assert.ErrorIs(t, err, core.ErrNotFound, "a job is finalized exactly once")

	jobs, err := st.ListImportJobs(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a.csv", jobs[0].Filename)
	assert.Equal(t, "b.csv", jobs[1].Filename)

	_, err = st.GetImportJob(ctx, uuid.NewString())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testFacilities(t *testing.T, st core.Store) {
	ctx := context.Background()
	power, _ := core.SectorBySlug("power")
	require.NoError(t, st.EnsureSector(ctx, power))
	require.NoError(t, st.EnsureSector(ctx, power), "EnsureSector is idempotent")

	plant, err := st.CreateFacility(ctx, core.Facility{Name: "Plant A", SectorID: "power", Meta: map[string]string{"region": "north"}})
	require.NoError(t, err)
	require.NotEmpty(t, plant.ID)

	_, err = st.CreateFacility(ctx, core.Facility{Name: "Plant A"})
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	again, err := st.GetOrCreateFacility(ctx, core.Facility{Name: "Plant A"})
	require.NoError(t, err)
	assert.Equal(t, plant.ID, again.ID)

	found, err := st.FindFacilityByName(ctx, "Plant A")
	require.NoError(t, err)
	assert.Equal(t, "power", found.SectorID)
	assert.Equal(t, "north", found.Meta["region"])

	_, err = st.FindFacilityByName(ctx, "plant a")
	assert.ErrorIs(t, err, core.ErrNotFound, "names are case-sensitive")

	noSector, err := st.GetOrCreateFacility(ctx, core.Facility{Name: "Depot"})
	require.NoError(t, err)
	assert.Empty(t, noSector.SectorID)

	bySector, err := st.ListFacilitiesBySector(ctx, "power")
	require.NoError(t, err)
	require.Len(t, bySector, 1)
	assert.Equal(t, plant.ID, bySector[0].ID)

	_, err = st.GetFacility(ctx, uuid.NewString())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func newFacility(t *testing.T, st core.Store, name string) core.Facility {
	t.Helper()
	f, err := st.CreateFacility(context.Background(), core.Facility{Name: name})
	require.NoError(t, err)
	return f
}

func observation(facilityID string, year, month int, source core.Source, tonnes float64, version string) core.Observation {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return core.Observation{
		ID:             uuid.NewString(),
		FacilityID:     facilityID,
		Year:           year,
		Month:          month,
		CO2eTonnes:     tonnes,
		Scope:          1,
		Source:         source,
		Method:         "cems",
		DatasetVersion: version,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func testObservationInsert(t *testing.T, st core.Store) {
	ctx := context.Background()
	f := newFacility(t, st, "Plant A")

	ok, err := st.InsertObservation(ctx, observation(f.ID, 2021, 0, core.SourceReported, 100, "v1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.InsertObservation(ctx, observation(f.ID, 2021, 0, core.SourceReported, 999, "v2"))
	require.NoError(t, err)
	assert.False(t, ok, "second insert at the same key must be a no-op")

	ok, err = st.InsertObservation(ctx, observation(f.ID, 2021, 3, core.SourceReported, 10, "v1"))
	require.NoError(t, err)
	assert.True(t, ok, "monthly and annual rows coexist")

	ok, err = st.InsertObservation(ctx, observation(f.ID, 2021, 0, core.SourceObserved, 90, "v1"))
	require.NoError(t, err)
	assert.True(t, ok, "source is part of the key")

	got, err := st.GetObservation(ctx, core.ObservationKey{FacilityID: f.ID, Year: 2021, Source: core.SourceReported})
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.CO2eTonnes)
	assert.Equal(t, "v1", got.DatasetVersion)

	_, err = st.GetObservation(ctx, core.ObservationKey{FacilityID: f.ID, Year: 1999, Source: core.SourceReported})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testObservationReplace(t *testing.T, st core.Store) {
	ctx := context.Background()
	f := newFacility(t, st, "Plant A")
	key := core.ObservationKey{FacilityID: f.ID, Year: 2022, Source: core.SourceReported}

	_, err := st.InsertObservation(ctx, observation(f.ID, 2022, 0, core.SourceReported, 100, "v2"))
	require.NoError(t, err)

	older := observation(f.ID, 2022, 0, core.SourceReported, 1, "v1")
	ok, err := st.ReplaceObservationIfNewer(ctx, older, true)
	require.NoError(t, err)
	assert.False(t, ok, "older version must not replace")

	same := observation(f.ID, 2022, 0, core.SourceReported, 2, "v2")
	ok, err = st.ReplaceObservationIfNewer(ctx, same, true)
	require.NoError(t, err)
	assert.False(t, ok, "equal version must not replace")

	newer := observation(f.ID, 2022, 0, core.SourceReported, 300, "v3")
	newer.Scope = 2
	newer.Notes = "boundary change"
	ok, err = st.ReplaceObservationIfNewer(ctx, newer, false)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetObservation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 300.0, got.CO2eTonnes)
	assert.Equal(t, "v3", got.DatasetVersion)
	assert.Equal(t, "boundary change", got.Notes)
	assert.Equal(t, 1, got.Scope, "scope kept when replaceScope is false")

	withScope := observation(f.ID, 2022, 0, core.SourceReported, 400, "v4")
	withScope.Scope = 3
	ok, err = st.ReplaceObservationIfNewer(ctx, withScope, true)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = st.GetObservation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Scope)

	// Versions compare byte-wise: "v9" sorts after "v10".
	_, err = st.InsertObservation(ctx, observation(f.ID, 2023, 0, core.SourceReported, 9, "v9"))
	require.NoError(t, err)
	ok, err = st.ReplaceObservationIfNewer(ctx, observation(f.ID, 2023, 0, core.SourceReported, 10, "v10"), false)
	require.NoError(t, err)
	assert.False(t, ok, `"v10" is not newer than "v9" byte-wise`)

	ok, err = st.ReplaceObservationIfNewer(ctx, observation(f.ID, 2030, 0, core.SourceReported, 1, "v9"), false)
	require.NoError(t, err)
	assert.False(t, ok, "missing key is never replaced")
}

func testObservationList(t *testing.T, st core.Store) {
	ctx := context.Background()
	a := newFacility(t, st, "Plant A")
	b := newFacility(t, st, "Plant B")

	for _, o := range []core.Observation{
		observation(a.ID, 2021, 0, core.SourceObserved, 1, "v1"),
		observation(a.ID, 2022, 0, core.SourceObserved, 2, "v1"),
		observation(a.ID, 2022, 0, core.SourceReported, 3, "v1"),
		observation(b.ID, 2022, 0, core.SourceObserved, 4, "v1"),
	} {
		_, err := st.InsertObservation(ctx, o)
		require.NoError(t, err)
	}

	all, err := st.ListObservations(ctx, core.ObservationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	onlyA, err := st.ListObservations(ctx, core.ObservationFilter{FacilityIDs: []string{a.ID}})
	require.NoError(t, err)
	require.Len(t, onlyA, 3)
	assert.Equal(t, 2021, onlyA[0].Year, "ordered by year")

	observed, err := st.ListObservations(ctx, core.ObservationFilter{FacilityIDs: []string{a.ID, b.ID}, Source: core.SourceObserved})
	require.NoError(t, err)
	assert.Len(t, observed, 3)

	year, err := st.ListObservations(ctx, core.ObservationFilter{FacilityIDs: []string{a.ID}, Year: 2022})
	require.NoError(t, err)
	assert.Len(t, year, 2)
}
