// Package postgres implements core.Store on PostgreSQL through pgxpool.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

var _ core.Store = (*Store)(nil)

// Config holds the pool settings.
type Config struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a core.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The schema is not applied.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) GetOrCreateDataset(ctx context.Context, name, source, versionTag string) (core.Dataset, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datasets (id, name, source, version_tag, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, source, version_tag) DO NOTHING`,
		uuid.NewString(), name, source, versionTag, time.Now().UTC())
	if err != nil {
		return core.Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}

	var d core.Dataset
	err = s.pool.QueryRow(ctx, `
		SELECT id, name, source, version_tag, created_at
		FROM datasets WHERE name = $1 AND source = $2 AND version_tag = $3`,
		name, source, versionTag).Scan(&d.ID, &d.Name, &d.Source, &d.VersionTag, &d.CreatedAt)
	if err != nil {
		return core.Dataset{}, fmt.Errorf("select dataset: %w", err)
	}
	return d, nil
}

func (s *Store) CreateImportJob(ctx context.Context, job core.ImportJob) error {
	headerMap, err := json.Marshal(job.HeaderMap)
	if err != nil {
		return fmt.Errorf("encode header map: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO import_jobs (id, dataset_id, filename, checksum_sha256, adapter, header_map, archive_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.DatasetID, job.Filename, job.ChecksumSHA256, job.Adapter, headerMap, job.ArchiveKey, string(job.Status), job.CreatedAt)
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

	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs SET status = $2, stats = $3, errors = $4, finished_at = $5
		WHERE id = $1 AND status = 'pending'`,
		id, string(status), statsJSON, errsJSON, finishedAt)
	if err != nil {
		return fmt.Errorf("finalize import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending import job %s: %w", id, core.ErrNotFound)
	}
	return nil
}

const importJobColumns = `id, dataset_id, filename, checksum_sha256, adapter, header_map, archive_key, stats, status, errors, created_at, finished_at`

func scanImportJob(row pgx.Row) (core.ImportJob, error) {
	var (
		j                          core.ImportJob
		status                     string
		headerMap, stats, errsJSON []byte
	)
	if err := row.Scan(&j.ID, &j.DatasetID, &j.Filename, &j.ChecksumSHA256, &j.Adapter, &headerMap,
		&j.ArchiveKey, &stats, &status, &errsJSON, &j.CreatedAt, &j.FinishedAt); err != nil {
		return core.ImportJob{}, err
	}
	j.Status = core.JobStatus(status)
	if len(headerMap) > 0 {
		if err := json.Unmarshal(headerMap, &j.HeaderMap); err != nil {
			return core.ImportJob{}, fmt.Errorf("decode header map: %w", err)
		}
	}
	if err := json.Unmarshal(stats, &j.Stats); err != nil {
		return core.ImportJob{}, fmt.Errorf("decode stats: %w", err)
	}
	if err := json.Unmarshal(errsJSON, &j.Errors); err != nil {
		return core.ImportJob{}, fmt.Errorf("decode errors: %w", err)
	}
	return j, nil
}

func (s *Store) GetImportJob(ctx context.Context, id string) (core.ImportJob, error) {
	j, err := scanImportJob(s.pool.QueryRow(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id))
	if err != nil {
		return core.ImportJob{}, notFound(err, "import job "+id)
	}
	return j, nil
}

func (s *Store) ListImportJobs(ctx context.Context, datasetID string) ([]core.ImportJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+importJobColumns+` FROM import_jobs
		WHERE dataset_id = $1 ORDER BY created_at, id`, datasetID)
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
	_, err := s.pool.Exec(ctx, `INSERT INTO sectors (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO facilities (id, name, sector_id, organization_id, location, meta, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		f.ID, f.Name, f.SectorID, f.OrganizationID, f.Location, meta, f.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO facilities (id, name, sector_id, organization_id, location, meta, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		ON CONFLICT (name) DO NOTHING`,
		f.ID, f.Name, f.SectorID, f.OrganizationID, f.Location, meta, f.CreatedAt)
	if err != nil {
		return core.Facility{}, fmt.Errorf("insert facility: %w", err)
	}
	return s.FindFacilityByName(ctx, f.Name)
}

const facilityColumns = `id, name, COALESCE(sector_id, ''), organization_id, location, meta, created_at`

func scanFacility(row pgx.Row) (core.Facility, error) {
	var (
		f    core.Facility
		meta []byte
	)
	if err := row.Scan(&f.ID, &f.Name, &f.SectorID, &f.OrganizationID, &f.Location, &meta, &f.CreatedAt); err != nil {
		return core.Facility{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &f.Meta); err != nil {
			return core.Facility{}, fmt.Errorf("decode meta: %w", err)
		}
	}
	return f, nil
}

func (s *Store) FindFacilityByName(ctx context.Context, name string) (core.Facility, error) {
	f, err := scanFacility(s.pool.QueryRow(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE name = $1`, name))
	if err != nil {
		return core.Facility{}, notFound(err, fmt.Sprintf("facility %q", name))
	}
	return f, nil
}

func (s *Store) GetFacility(ctx context.Context, id string) (core.Facility, error) {
	f, err := scanFacility(s.pool.QueryRow(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = $1`, id))
	if err != nil {
		return core.Facility{}, notFound(err, "facility "+id)
	}
	return f, nil
}

func (s *Store) ListFacilitiesBySector(ctx context.Context, sectorID string) ([]core.Facility, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE sector_id = $1 ORDER BY name`, sectorID)
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
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO observations (id, facility_id, year, month, co2e_tonnes, scope, source, method, notes,
			dataset_version, import_job_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (facility_id, year, month, source) DO NOTHING`,
		obs.ID, obs.FacilityID, obs.Year, obs.Month, obs.CO2eTonnes, obs.Scope, string(obs.Source),
		obs.Method, obs.Notes, obs.DatasetVersion, obs.ImportJobID, obs.CreatedAt, obs.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReplaceObservationIfNewer(ctx context.Context, obs core.Observation, replaceScope bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE observations
		SET co2e_tonnes = $5, method = $6, notes = $7, dataset_version = $8, import_job_id = $9, updated_at = $10,
			scope = CASE WHEN $11::boolean THEN $12::integer ELSE scope END
		WHERE facility_id = $1 AND year = $2 AND month = $3 AND source = $4
			AND dataset_version < $8`,
		obs.FacilityID, obs.Year, obs.Month, string(obs.Source),
		obs.CO2eTonnes, obs.Method, obs.Notes, obs.DatasetVersion, obs.ImportJobID, obs.UpdatedAt,
		replaceScope, obs.Scope)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const observationColumns = `id, facility_id, year, month, co2e_tonnes, scope, source, method, notes,
	dataset_version, import_job_id, created_at, updated_at`

func scanObservation(row pgx.Row) (core.Observation, error) {
	var (
		o      core.Observation
		source string
	)
	err := row.Scan(&o.ID, &o.FacilityID, &o.Year, &o.Month, &o.CO2eTonnes, &o.Scope, &source,
		&o.Method, &o.Notes, &o.DatasetVersion, &o.ImportJobID, &o.CreatedAt, &o.UpdatedAt)
	o.Source = core.Source(source)
	return o, err
}

func (s *Store) GetObservation(ctx context.Context, key core.ObservationKey) (core.Observation, error) {
	o, err := scanObservation(s.pool.QueryRow(ctx, `SELECT `+observationColumns+` FROM observations
		WHERE facility_id = $1 AND year = $2 AND month = $3 AND source = $4`,
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
		args = append(args, filter.FacilityIDs)
		where = append(where, fmt.Sprintf("facility_id = ANY($%d)", len(args)))
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		where = append(where, fmt.Sprintf("year = $%d", len(args)))
	}

	query := `SELECT ` + observationColumns + ` FROM observations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY facility_id, year, month, source"

	rows, err := s.pool.Query(ctx, query, args...)
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

// notFound maps pgx.ErrNoRows to core.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// splitStatements splits a schema file on semicolons. The schema contains
// no semicolons inside literals.
func splitStatements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		if strings.TrimSpace(stripComments(stmt)) != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
