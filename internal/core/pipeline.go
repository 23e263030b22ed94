package core

// pipeline.go implements the two-pass commit.
//
// Pass 1 validates every row without touching storage. Pass 2 writes the
// accepted candidates, folding them into buckets first when the adapter is an
// Aggregator. Every source row is attributed to exactly one outcome, so
//
//	rowsTotal = inserted + replaced + duplicates + invalid + skipped
//
// holds for every completed job. Row-level problems never fail a commit;
// store errors always do, and the job is then finalized as failed.

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/ghgledger/internal/logging"
)

// CommitOptions are the caller-supplied settings for one commit.
type CommitOptions struct {
	DatasetName     string          `json:"datasetName"`
	Source          string          `json:"source"`
	DatasetVersion  string          `json:"datasetVersion"`
	DuplicatePolicy DuplicatePolicy `json:"duplicatePolicy"`
}

// ImportReport summarizes a commit.
type ImportReport struct {
	DatasetID       string          `json:"datasetId"`
	ImportJobID     string          `json:"importJobId"`
	Adapter         string          `json:"adapter"`
	DuplicatePolicy DuplicatePolicy `json:"duplicatePolicy"`
	DatasetVersion  string          `json:"datasetVersion"`
	RowsTotal       int             `json:"rowsTotal"`
	Inserted        int             `json:"inserted"`
	Replaced        int             `json:"replaced"`
	Duplicates      int             `json:"duplicates"`
	Skipped         int             `json:"skipped"`
	Invalid         int             `json:"invalid"`
	Observations    int             `json:"observations"`
	Errors          []RowError      `json:"errors"`
	ErrorsTotal     int             `json:"errorsTotal"`
	ArchiveKey      string          `json:"archiveKey,omitempty"`
	DurationMs      int64           `json:"durationMs"`
}

// Stats converts the report counters into persisted job stats.
func (r *ImportReport) Stats() ImportStats {
	return ImportStats{
		RowsTotal:    r.RowsTotal,
		RowsImported: r.Inserted + r.Replaced,
		RowsSkipped:  r.Skipped,
		Duplicates:   r.Duplicates,
		Invalid:      r.Invalid,
	}
}

// Accounted returns the number of rows attributed to an outcome.
func (r *ImportReport) Accounted() int {
	return r.Inserted + r.Replaced + r.Duplicates + r.Invalid + r.Skipped
}

// Commit validates and persists an upload.
//
// The returned error is non-nil only for caller mistakes and infrastructure
// failures; rejected rows are reported in ImportReport.Errors. When the
// failure happens after the ImportJob was created, the partial report is
// returned together with the error.
func (s *Service) Commit(ctx context.Context, up Upload, opts CommitOptions) (*ImportReport, error) {
	opts.DatasetName = strings.TrimSpace(opts.DatasetName)
	if opts.DatasetName == "" {
		return nil, fmt.Errorf("%w: dataset name is required", ErrInvalidArgument)
	}
	if len(up.Headers) == 0 {
		return nil, ErrEmptyFile
	}
	if opts.DatasetVersion == "" {
		opts.DatasetVersion = s.opts.DefaultDatasetVersion
	}
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = PolicySkip
	}

	adapter, err := DetectAdapter(up.Headers)
	if err != nil {
		return nil, err
	}
	if opts.Source == "" {
		opts.Source = adapter.Key()
	}

	ctx, span := s.tracer.Start(ctx, "core.Commit", trace.WithAttributes(
		attribute.String("adapter", adapter.Key()),
		attribute.String("filename", up.Filename),
		attribute.Int("rows", len(up.Rows)),
	))
	defer span.End()

	ctx, done, err := s.limiter.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer done()

	start := time.Now()

	logger := logging.WithFields(ctx,
		"adapter", adapter.Key(),
		"filename", up.Filename,
		"dataset", opts.DatasetName,
	)

	dataset, err := s.store.GetOrCreateDataset(ctx, opts.DatasetName, opts.Source, opts.DatasetVersion)
	if err != nil {
		s.metrics.commitFinished(adapter.Key(), JobFailed, time.Since(start), nil)
		span.RecordError(err)
		return nil, fmt.Errorf("get or create dataset: %w", err)
	}

	job := ImportJob{
		ID:             uuid.NewString(),
		DatasetID:      dataset.ID,
		Filename:       up.Filename,
		ChecksumSHA256: up.Checksum,
		Adapter:        adapter.Key(),
		HeaderMap:      adapter.HeaderMap(up.Headers),
		Status:         JobPending,
		CreatedAt:      time.Now().UTC(),
	}
	job.ArchiveKey = s.archiveUpload(ctx, logger, job, up)

	if err := s.store.CreateImportJob(ctx, job); err != nil {
		s.metrics.commitFinished(adapter.Key(), JobFailed, time.Since(start), nil)
		span.RecordError(err)
		return nil, fmt.Errorf("create import job: %w", err)
	}

	logger = logger.With("import_job_id", job.ID)
	logger.Info("commit started", "rows", len(up.Rows), "policy", opts.DuplicatePolicy, "version", opts.DatasetVersion)

	report := &ImportReport{
		DatasetID:       dataset.ID,
		ImportJobID:     job.ID,
		Adapter:         adapter.Key(),
		DuplicatePolicy: opts.DuplicatePolicy,
		DatasetVersion:  opts.DatasetVersion,
		RowsTotal:       len(up.Rows),
		ArchiveKey:      job.ArchiveKey,
	}
	t := &tally{report: report}

	runErr := s.runCommit(ctx, adapter, up, UpsertParams{
		DatasetVersion: opts.DatasetVersion,
		Policy:         opts.DuplicatePolicy,
		ImportJobID:    job.ID,
	}, t)
	t.finish(s.opts.MaxReportedErrors)

	status := JobCompleted
	if runErr != nil {
		status = JobFailed
	}

	// The request context may already be cancelled; the job must still be finalized.
	finCtx, finCancel := context.WithTimeout(context.WithoutCancel(ctx), jobFinalizeTimeout)
	defer finCancel()
	if err := s.store.FinalizeImportJob(finCtx, job.ID, status, report.Stats(), report.Errors, time.Now().UTC()); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("finalize import job: %w", err)
		} else {
			logger.Error("finalize failed job", "error", err)
		}
	}

	elapsed := time.Since(start)
	report.DurationMs = elapsed.Milliseconds()
	s.metrics.commitFinished(adapter.Key(), status, elapsed, report)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error("commit failed", "error", runErr, "duration_ms", report.DurationMs)
		return report, runErr
	}

	span.SetAttributes(
		attribute.Int("inserted", report.Inserted),
		attribute.Int("replaced", report.Replaced),
		attribute.Int("invalid", report.Invalid),
	)
	logger.Info("commit completed",
		"inserted", report.Inserted,
		"replaced", report.Replaced,
		"duplicates", report.Duplicates,
		"skipped", report.Skipped,
		"invalid", report.Invalid,
		"duration_ms", report.DurationMs,
	)
	return report, nil
}

// runCommit executes both passes, recording outcomes into t. A panic in
// the adapter or store fails the commit instead of leaving the job pending.
func (s *Service) runCommit(ctx context.Context, adapter Adapter, up Upload, p UpsertParams, t *tally) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during commit", "adapter", adapter.Key(), "import_job_id", p.ImportJobID, "panic", r)
			err = fmt.Errorf("commit aborted: panic in adapter %s: %v", adapter.Key(), r)
		}
	}()

	cands := validateRows(adapter, up, len(up.Rows), t)
	if err := ctx.Err(); err != nil {
		return err
	}

	if agg, ok := adapter.(Aggregator); ok {
		buckets, errs := agg.Aggregate(cands)
		for _, e := range errs {
			t.invalid(e.Row, e.Reason, e.Meta)
		}
		for i, b := range buckets {
			if i%ContextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			action, err := adapter.Upsert(ctx, s.store, b.Candidate, p)
			if err != nil {
				return fmt.Errorf("upsert bucket %s/%d: %w", b.Candidate.SectorSlug, b.Candidate.Year, err)
			}
			if err := t.apply(action, b.Rows, b.Candidate); err != nil {
				return err
			}
		}
		return nil
	}

	for i, c := range cands {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		action, err := adapter.Upsert(ctx, s.store, c, p)
		if err != nil {
			return fmt.Errorf("upsert row %d: %w", c.Row, err)
		}
		if err := t.apply(action, []int{c.Row}, c); err != nil {
			return err
		}
	}
	return nil
}

// validateRows is pass 1 over the first n rows of up. Candidates and errors
// carry the row's position in the source file.
func validateRows(adapter Adapter, up Upload, n int, t *tally) []Candidate {
	cands := make([]Candidate, 0, n)
	for i, rec := range up.Rows[:n] {
		row := up.RowNumber(i)
		res := safeValidate(adapter, rec)
		if !res.OK {
			t.invalid(row, res.Reason, res.Meta)
			continue
		}
		c := res.Candidate
		c.Row = row
		cands = append(cands, c)
	}
	return cands
}

// safeValidate turns a panicking validator into an "exception" rejection.
func safeValidate(adapter Adapter, rec Record) (res ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in row validation", "adapter", adapter.Key(), "panic", r)
			res = Reject(ReasonException, map[string]any{"error": fmt.Sprint(r)})
		}
	}()
	return adapter.Validate(rec)
}

// archiveUpload stores the raw file and returns its key. Archive failures are
// logged and leave the key empty; they never block a commit.
func (s *Service) archiveUpload(ctx context.Context, logger *slog.Logger, job ImportJob, up Upload) string {
	if s.archive == nil || len(up.Raw) == 0 {
		return ""
	}
	name := path.Base(strings.ReplaceAll(up.Filename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = "upload.csv"
	}
	key := fmt.Sprintf("imports/%s/%s/%s", job.DatasetID, job.ID, name)
	if err := s.archive.Put(ctx, key, up.Raw, contentTypeFor(name)); err != nil {
		logger.Warn("archive upload failed", "key", key, "error", err)
		return ""
	}
	return key
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// tally accumulates row outcomes for an ImportReport.
type tally struct {
	report *ImportReport
}

func (t *tally) invalid(row int, reason string, meta map[string]any) {
	t.report.Invalid++
	t.report.Errors = append(t.report.Errors, RowError{Row: row, Reason: reason, Meta: meta})
}

func (t *tally) apply(action UpsertAction, rows []int, c Candidate) error {
	n := len(rows)
	switch action {
	case ActionInserted:
		t.report.Inserted += n
		t.report.Observations++
	case ActionReplaced:
		t.report.Replaced += n
		t.report.Observations++
	case ActionDuplicate:
		t.report.Duplicates += n
	case ActionSkipUnknownFacility:
		t.report.Skipped += n
		for _, row := range rows {
			t.report.Errors = append(t.report.Errors, RowError{
				Row:    row,
				Reason: ReasonSkipUnknownFacility,
				Meta:   map[string]any{"facility_name": c.FacilityName},
			})
		}
	default:
		return fmt.Errorf("adapter returned unknown action %q", action)
	}
	return nil
}

// finish orders errors by row and applies the reporting cap.
func (t *tally) finish(maxErrors int) {
	sort.SliceStable(t.report.Errors, func(i, j int) bool {
		return t.report.Errors[i].Row < t.report.Errors[j].Row
	})
	t.report.ErrorsTotal = len(t.report.Errors)
	if maxErrors > 0 && len(t.report.Errors) > maxErrors {
		t.report.Errors = t.report.Errors[:maxErrors]
	}
	if t.report.Errors == nil {
		t.report.Errors = []RowError{}
	}
}
