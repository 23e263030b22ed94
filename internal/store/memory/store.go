// Package memory implements core.Store in process memory.
// It backs the CLI's scratch mode and the pipeline tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

var _ core.Store = (*Store)(nil)

type datasetKey struct {
	name, source, version string
}

// Store keeps every entity in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	datasets      map[string]core.Dataset
	datasetByKey  map[datasetKey]string
	jobs          map[string]core.ImportJob
	sectors       map[string]core.Sector
	facilities    map[string]core.Facility
	facilityNames map[string]string
	observations  map[core.ObservationKey]core.Observation
}

// New returns an empty store.
func New() *Store {
	return &Store{
		datasets:      make(map[string]core.Dataset),
		datasetByKey:  make(map[datasetKey]string),
		jobs:          make(map[string]core.ImportJob),
		sectors:       make(map[string]core.Sector),
		facilities:    make(map[string]core.Facility),
		facilityNames: make(map[string]string),
		observations:  make(map[core.ObservationKey]core.Observation),
	}
}

func (s *Store) GetOrCreateDataset(_ context.Context, name, source, versionTag string) (core.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := datasetKey{name, source, versionTag}
	if id, ok := s.datasetByKey[k]; ok {
		return s.datasets[id], nil
	}
	d := core.Dataset{
		ID:         uuid.NewString(),
		Name:       name,
		Source:     source,
		VersionTag: versionTag,
		CreatedAt:  time.Now().UTC(),
	}
	s.datasets[d.ID] = d
	s.datasetByKey[k] = d.ID
	return d, nil
}

func (s *Store) CreateImportJob(_ context.Context, job core.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[job.DatasetID]; !ok {
		return fmt.Errorf("dataset %s: %w", job.DatasetID, core.ErrNotFound)
	}
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("import job %s: %w", job.ID, core.ErrAlreadyExists)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Store) FinalizeImportJob(_ context.Context, id string, status core.JobStatus, stats core.ImportStats, errs []core.RowError, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != core.JobPending {
		return fmt.Errorf("pending import job %s: %w", id, core.ErrNotFound)
	}
	job.Status = status
	job.Stats = stats
	job.Errors = append([]core.RowError(nil), errs...)
	job.FinishedAt = &finishedAt
	s.jobs[id] = job
	return nil
}

func (s *Store) GetImportJob(_ context.Context, id string) (core.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return core.ImportJob{}, fmt.Errorf("import job %s: %w", id, core.ErrNotFound)
	}
	return cloneJob(job), nil
}

func (s *Store) ListImportJobs(_ context.Context, datasetID string) ([]core.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []core.ImportJob{}
	for _, j := range s.jobs {
		if j.DatasetID == datasetID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) EnsureSector(_ context.Context, sector core.Sector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sectors[sector.ID]; !ok {
		s.sectors[sector.ID] = sector
	}
	return nil
}

func (s *Store) CreateFacility(_ context.Context, f core.Facility) (core.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.facilityNames[f.Name]; ok {
		return core.Facility{}, fmt.Errorf("facility %q: %w", f.Name, core.ErrAlreadyExists)
	}
	return s.insertFacilityLocked(f), nil
}

func (s *Store) GetOrCreateFacility(_ context.Context, f core.Facility) (core.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.facilityNames[f.Name]; ok {
		return s.facilities[id], nil
	}
	return s.insertFacilityLocked(f), nil
}

func (s *Store) insertFacilityLocked(f core.Facility) core.Facility {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.Meta = cloneMeta(f.Meta)
	s.facilities[f.ID] = f
	s.facilityNames[f.Name] = f.ID
	return f
}

func (s *Store) FindFacilityByName(_ context.Context, name string) (core.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.facilityNames[name]
	if !ok {
		return core.Facility{}, fmt.Errorf("facility %q: %w", name, core.ErrNotFound)
	}
	return s.facilities[id], nil
}

func (s *Store) GetFacility(_ context.Context, id string) (core.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.facilities[id]
	if !ok {
		return core.Facility{}, fmt.Errorf("facility %s: %w", id, core.ErrNotFound)
	}
	return f, nil
}

func (s *Store) ListFacilitiesBySector(_ context.Context, sectorID string) ([]core.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []core.Facility{}
	for _, f := range s.facilities {
		if f.SectorID == sectorID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) InsertObservation(_ context.Context, obs core.Observation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.facilities[obs.FacilityID]; !ok {
		return false, fmt.Errorf("facility %s: foreign key: %w", obs.FacilityID, core.ErrNotFound)
	}
	k := obs.Key()
	if _, ok := s.observations[k]; ok {
		return false, nil
	}
	s.observations[k] = obs
	return true, nil
}

func (s *Store) ReplaceObservationIfNewer(_ context.Context, obs core.Observation, replaceScope bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := obs.Key()
	cur, ok := s.observations[k]
	if !ok || !(cur.DatasetVersion < obs.DatasetVersion) {
		return false, nil
	}
	cur.CO2eTonnes = obs.CO2eTonnes
	cur.Method = obs.Method
	cur.Notes = obs.Notes
	cur.DatasetVersion = obs.DatasetVersion
	cur.ImportJobID = obs.ImportJobID
	cur.UpdatedAt = obs.UpdatedAt
	if replaceScope {
		cur.Scope = obs.Scope
	}
	s.observations[k] = cur
	return true, nil
}

func (s *Store) GetObservation(_ context.Context, key core.ObservationKey) (core.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs, ok := s.observations[key]
	if !ok {
		return core.Observation{}, fmt.Errorf("observation %+v: %w", key, core.ErrNotFound)
	}
	return obs, nil
}

func (s *Store) ListObservations(_ context.Context, filter core.ObservationFilter) ([]core.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[string]bool
	if len(filter.FacilityIDs) > 0 {
		ids = make(map[string]bool, len(filter.FacilityIDs))
		for _, id := range filter.FacilityIDs {
			ids[id] = true
		}
	}

	out := []core.Observation{}
	for _, o := range s.observations {
		if ids != nil && !ids[o.FacilityID] {
			continue
		}
		if filter.Source != "" && o.Source != filter.Source {
			continue
		}
		if filter.Year != 0 && o.Year != filter.Year {
			continue
		}
		out = append(out, o)
	}
	sortObservations(out)
	return out, nil
}

// sortObservations orders by facility, year, month, source: the order the SQL stores use.
func sortObservations(obs []core.Observation) {
	sort.Slice(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if a.FacilityID != b.FacilityID {
			return a.FacilityID < b.FacilityID
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.Source < b.Source
	})
}

func cloneJob(j core.ImportJob) core.ImportJob {
	j.Errors = append([]core.RowError(nil), j.Errors...)
	j.HeaderMap = cloneMeta(j.HeaderMap)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		j.FinishedAt = &t
	}
	return j
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
