package core

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies spans emitted by this package.
const tracerName = "github.com/JonMunkholm/ghgledger/internal/core"

// Default limits applied when Options leaves a field at zero.
const (
	DefaultMaxReportedErrors = 500
	DefaultPreviewReadRows   = 200
	DefaultPreviewCheckRows  = 50
	DefaultPreviewSampleRows = 10
	DefaultDatasetVersion    = "v1"
	DefaultCommitTimeout     = 10 * time.Minute
	DefaultAnomalyZ          = 3.5
)

// jobFinalizeTimeout bounds the write that marks a job failed after the
// request context is already gone.
const jobFinalizeTimeout = 10 * time.Second

// ContextCheckInterval is how often (in rows) long loops check for cancellation.
var ContextCheckInterval = 100

// Archiver stores the raw bytes of committed uploads.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Options tunes the Service. Zero values fall back to the package defaults.
type Options struct {
	MaxReportedErrors     int
	PreviewReadRows       int
	PreviewCheckRows      int
	PreviewSampleRows     int
	DefaultDatasetVersion string
	MaxConcurrentCommits  int
	CommitWait            time.Duration
	CommitTimeout         time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxReportedErrors <= 0 {
		o.MaxReportedErrors = DefaultMaxReportedErrors
	}
	if o.PreviewReadRows <= 0 {
		o.PreviewReadRows = DefaultPreviewReadRows
	}
	if o.PreviewCheckRows <= 0 {
		o.PreviewCheckRows = DefaultPreviewCheckRows
	}
	if o.PreviewCheckRows > o.PreviewReadRows {
		o.PreviewCheckRows = o.PreviewReadRows
	}
	if o.PreviewSampleRows <= 0 {
		o.PreviewSampleRows = DefaultPreviewSampleRows
	}
	if o.DefaultDatasetVersion == "" {
		o.DefaultDatasetVersion = DefaultDatasetVersion
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = DefaultCommitTimeout
	}
	return o
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithArchive enables raw upload archiving.
func WithArchive(a Archiver) Option {
	return func(s *Service) { s.archive = a }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service provides the ingestion and analytics operations.
type Service struct {
	store   Store
	archive Archiver
	metrics *Metrics
	limiter *CommitLimiter
	opts    Options
	tracer  trace.Tracer
}

// NewService creates a new Service instance.
func NewService(store Store, opts Options, options ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidArgument)
	}
	opts = opts.withDefaults()

	s := &Service{
		store:   store,
		opts:    opts,
		limiter: NewCommitLimiter(opts.MaxConcurrentCommits, opts.CommitWait, opts.CommitTimeout),
		tracer:  otel.Tracer(tracerName),
	}
	for _, o := range options {
		o(s)
	}
	s.metrics.register(s.limiter)
	return s, nil
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Options returns the effective options after defaults.
func (s *Service) Options() Options {
	return s.opts
}

// AdapterInfo describes a registered adapter for listing endpoints.
type AdapterInfo struct {
	Key      string `json:"key"`
	Priority int    `json:"priority"`
	Default  bool   `json:"default"`
}

// ListAdapters returns the registered adapters in detection order.
func (s *Service) ListAdapters() []AdapterInfo {
	adapters := All()
	infos := make([]AdapterInfo, len(adapters))
	for i, a := range adapters {
		infos[i] = AdapterInfo{Key: a.Key(), Priority: a.Priority(), Default: a.Key() == DefaultAdapterKey}
	}
	return infos
}

// CommitLimiterStatus returns the commit limiter's current state.
func (s *Service) CommitLimiterStatus() CommitLimiterStatus {
	return s.limiter.Status()
}

// WaitForCommits blocks until in-flight commits finish or ctx is done.
func (s *Service) WaitForCommits(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// GetImportJob returns the lineage record for one commit.
func (s *Service) GetImportJob(ctx context.Context, id string) (ImportJob, error) {
	return s.store.GetImportJob(ctx, id)
}

// ListImportJobs returns every commit recorded for a dataset, oldest first.
func (s *Service) ListImportJobs(ctx context.Context, datasetID string) ([]ImportJob, error) {
	return s.store.ListImportJobs(ctx, datasetID)
}

// GetFacility returns one facility by id.
func (s *Service) GetFacility(ctx context.Context, id string) (Facility, error) {
	return s.store.GetFacility(ctx, id)
}

// RegisterFacility creates an operator facility. Operator uploads only
// attach to facilities that already exist.
func (s *Service) RegisterFacility(ctx context.Context, f Facility) (Facility, error) {
	if f.Name == "" {
		return Facility{}, fmt.Errorf("%w: facility name is required", ErrInvalidArgument)
	}
	if f.SectorID != "" {
		sector, ok := SectorBySlug(f.SectorID)
		if !ok {
			c := Classify(f.SectorID)
			if !c.Matched() {
				return Facility{}, fmt.Errorf("%w: unknown sector %q", ErrInvalidArgument, f.SectorID)
			}
			sector, _ = SectorBySlug(c.Slug)
		}
		if err := s.store.EnsureSector(ctx, sector); err != nil {
			return Facility{}, fmt.Errorf("ensure sector: %w", err)
		}
		f.SectorID = sector.ID
	}
	return s.store.CreateFacility(ctx, f)
}
