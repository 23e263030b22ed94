// Package sqlite implements core.Store on a local SQLite file using the
// pure-Go modernc driver. It backs the ghgctl CLI and single-node servers.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

//go:embed schema.sql
var schemaSQL string

var _ core.Store = (*Store)(nil)

// Store is a core.Store backed by database/sql.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time, and ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetOrCreateDataset(ctx context.Context, name, source, versionTag string) (core.Dataset, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datasets (id, name, source, version_tag, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name, source, version_tag) DO NOTHING`,
		uuid.NewString(), name, source, versionTag, formatTime(time.Now()))
	if err != nil {
		return core.Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}

	var (
		d       core.Dataset
		created string
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT id, name, source, version_tag, created_at
		FROM datasets WHERE name = ? AND source = ? AND version_tag = ?`,
		name, source, versionTag).Scan(&d.ID, &d.Name, &d.Source, &d.VersionTag, &created)
	if err != nil {
		return core.Dataset{}, fmt.Errorf("select dataset: %w", err)
	}
	d.CreatedAt = parseTime(created)
	return d, nil
}

func (s *Store) CreateImportJob(ctx context.Context, job core.ImportJob) error {
	headerMap, err := json.Marshal(job.HeaderMap)
	if err != nil {
		return fmt.Errorf("encode header map: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_jobs (id, dataset_id, filename, checksum_sha256, adapter, header_map, archive_key, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.DatasetID, job.Filename, job.ChecksumSHA256, job.Adapter, string(headerMap),
		job.ArchiveKey, string(job.Status), formatTime(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

func (s *Store) FinalizeImportJob(ctx context.Context, id string, status core.JobStatus, stats core.ImportStats, errs []core.RowError, finishedAt time.Time) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if errs == nil {
		errs = []core.RowError{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs SET status = ?, stats = ?, errors = ?, finished_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(status), string(statsJSON), string(errsJSON), formatTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("finalize import job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending import job %s: %w", id, core.ErrNotFound)
	}
	return nil
}

const importJobColumns = `id, dataset_id, filename, checksum_sha256, adapter, header_map, archive_key, stats, status, errors, created_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanImportJob(row scanner) (core.ImportJob, error) {
	var (
		j                       core.ImportJob
		status, stats, errsJSON string
		created                 string
		headerMap, finished     sql.NullString
	)
	if err := row.Scan(&j.ID, &j.DatasetID, &j.Filename, &j.ChecksumSHA256, &j.Adapter, &headerMap,
		&j.ArchiveKey, &stats, &status, &errsJSON, &created, &finished); err != nil {
		return core.ImportJob{}, err
	}
	j.Status = core.JobStatus(status)
	j.CreatedAt = parseTime(created)
	if finished.Valid {
		t := parseTime(finished.String)
		j.FinishedAt = &t
	}
	if headerMap.Valid && headerMap.String != "" {
		if err := json.Unmarshal([]byte(headerMap.String), &j.HeaderMap); err != nil {
			return core.ImportJob{}, fmt.Errorf("decode header map: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(stats), &j.Stats); err != nil {
		return core.ImportJob{}, fmt.Errorf("decode stats: %w", err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &j.Errors); err != nil {
		return core.ImportJob{}, fmt.Errorf("decode errors: %w", err)
	}
	return j, nil
}

func (s *Store) GetImportJob(ctx context.Context, id string) (core.ImportJob, error) {
	j, err := scanImportJob(s.db.QueryRowContext(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = ?`, id))
	if err != nil {
		return core.ImportJob{}, notFound(err, "import job "+id)
	}
	return j, nil
}

func (s *Store) ListImportJobs(ctx context.Context, datasetID string) ([]core.ImportJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+importJobColumns+` FROM import_jobs
		WHERE dataset_id = ? ORDER BY created_at, id`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	defer rows.Close()

	jobs := []core.ImportJob{}
	for rows.Next() {
		j, err := scanImportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) EnsureSector(ctx context.Context, sector core.Sector) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sectors (id, name) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		sector.ID, sector.Name)
	if err != nil {
		return fmt.Errorf("insert sector: %w", err)
	}
	return nil
}

func (s *Store) CreateFacility(ctx context.Context, f core.Facility) (core.Facility, error) {
	f = withFacilityDefaults(f)
	meta, err := json.Marshal(f.Meta)
	if err != nil {
		return core.Facility{}, fmt.Errorf("encode meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facilities (id, name, sector_id, organization_id, location, meta, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)`,
		f.ID, f.Name, f.SectorID, f.OrganizationID, f.Location, string(meta), formatTime(f.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Facility{}, fmt.Errorf("facility %q: %w", f.Name, core.ErrAlreadyExists)
		}
		return core.Facility{}, fmt.Errorf("insert facility: %w", err)
	}
	return f, nil
}

func (s *Store) GetOrCreateFacility(ctx context.Context, f core.Facility) (core.Facility, error) {
	f = withFacilityDefaults(f)
	meta, err := json.Marshal(f.Meta)
	if err != nil {
		return core.Facility{}, fmt.Errorf("encode meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facilities (id, name, sector_id, organization_id, location, meta, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`,
		f.ID, f.Name, f.SectorID, f.OrganizationID, f.Location, string(meta), formatTime(f.CreatedAt))
	if err != nil {
		return core.Facility{}, fmt.Errorf("insert facility: %w", err)
	}
	return s.FindFacilityByName(ctx, f.Name)
}

const facilityColumns = `id, name, COALESCE(sector_id, ''), organization_id, location, meta, created_at`

func scanFacility(row scanner) (core.Facility, error) {
	var (
		f       core.Facility
		meta    sql.NullString
		created string
	)
	if err := row.Scan(&f.ID, &f.Name, &f.SectorID, &f.OrganizationID, &f.Location, &meta, &created); err != nil {
		return core.Facility{}, err
	}
	f.CreatedAt = parseTime(created)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &f.Meta); err != nil {
			return core.Facility{}, fmt.Errorf("decode meta: %w", err)
		}
	}
	return f, nil
}

func (s *Store) FindFacilityByName(ctx context.Context, name string) (core.Facility, error) {
	f, err := scanFacility(s.db.QueryRowContext(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE name = ?`, name))
	if err != nil {
		return core.Facility{}, notFound(err, fmt.Sprintf("facility %q", name))
	}
	return f, nil
}

func (s *Store) GetFacility(ctx context.Context, id string) (core.Facility, error) {
	f, err := scanFacility(s.db.QueryRowContext(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = ?`, id))
	if err != nil {
		return core.Facility{}, notFound(err, "facility "+id)
	}
	return f, nil
}

func (s *Store) ListFacilitiesBySector(ctx context.Context, sectorID string) ([]core.Facility, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE sector_id = ? ORDER BY name`, sectorID)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	defer rows.Close()

	out := []core.Facility{}
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("scan facility: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) InsertObservation(ctx context.Context, obs core.Observation) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (id, facility_id, year, month, co2e_tonnes, scope, source, method, notes,
			dataset_version, import_job_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (facility_id, year, month, source) DO NOTHING`,
		obs.ID, obs.FacilityID, obs.Year, obs.Month, obs.CO2eTonnes, obs.Scope, string(obs.Source),
		obs.Method, obs.Notes, obs.DatasetVersion, obs.ImportJobID, formatTime(obs.CreatedAt), formatTime(obs.UpdatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) ReplaceObservationIfNewer(ctx context.Context, obs core.Observation, replaceScope bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE observations
		SET co2e_tonnes = ?, method = ?, notes = ?, dataset_version = ?, import_job_id = ?, updated_at = ?,
			scope = CASE WHEN ? THEN ? ELSE scope END
		WHERE facility_id = ? AND year = ? AND month = ? AND source = ?
			AND dataset_version < ?`,
		obs.CO2eTonnes, obs.Method, obs.Notes, obs.DatasetVersion, obs.ImportJobID, formatTime(obs.UpdatedAt),
		replaceScope, obs.Scope,
		obs.FacilityID, obs.Year, obs.Month, string(obs.Source),
		obs.DatasetVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

const observationColumns = `id, facility_id, year, month, co2e_tonnes, scope, source, method, notes,
	dataset_version, import_job_id, created_at, updated_at`

func scanObservation(row scanner) (core.Observation, error) {
	var (
		o                        core.Observation
		source, created, updated string
	)
	err := row.Scan(&o.ID, &o.FacilityID, &o.Year, &o.Month, &o.CO2eTonnes, &o.Scope, &source,
		&o.Method, &o.Notes, &o.DatasetVersion, &o.ImportJobID, &created, &updated)
	o.Source = core.Source(source)
	o.CreatedAt = parseTime(created)
	o.UpdatedAt = parseTime(updated)
	return o, err
}

func (s *Store) GetObservation(ctx context.Context, key core.ObservationKey) (core.Observation, error) {
	o, err := scanObservation(s.db.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations
		WHERE facility_id = ? AND year = ? AND month = ? AND source = ?`,
		key.FacilityID, key.Year, key.Month, string(key.Source)))
	if err != nil {
		return core.Observation{}, notFound(err, fmt.Sprintf("observation %+v", key))
	}
	return o, nil
}

func (s *Store) ListObservations(ctx context.Context, filter core.ObservationFilter) ([]core.Observation, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.FacilityIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(filter.FacilityIDs)), ",")
		where = append(where, "facility_id IN ("+marks+")")
		for _, id := range filter.FacilityIDs {
			args = append(args, id)
		}
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, filter.Year)
	}

	query := `SELECT ` + observationColumns + ` FROM observations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY facility_id, year, month, source"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	out := []core.Observation{}
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func withFacilityDefaults(f core.Facility) core.Facility {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return f
}

// timeLayout is fixed-width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows to core.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
