package core

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PreviewStats counts the deeply checked rows of a preview.
type PreviewStats struct {
	Checked  int `json:"checked"`
	OK       int `json:"ok"`
	Problems int `json:"problems"`
}

// PreviewReport is the read-only analysis of an upload.
type PreviewReport struct {
	Adapter          string            `json:"adapter"`
	Headers          []string          `json:"headers"`
	HeaderMap        map[string]string `json:"headerMap,omitempty"`
	RowsRead         int               `json:"rowsRead"`
	SampleNormalized []Candidate       `json:"sampleNormalized"`
	PreviewStats     PreviewStats      `json:"previewStats"`
	Errors           []RowError        `json:"errors"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
}

// Preview runs adapter selection and validation over the head of an upload
// without writing anything.
//
// Only the first PreviewReadRows rows are considered and only the first
// PreviewCheckRows of those are validated. For aggregating adapters the
// checked candidates are also folded so unit failures surface here.
func (s *Service) Preview(ctx context.Context, up Upload) (*PreviewReport, error) {
	if len(up.Headers) == 0 {
		return nil, ErrEmptyFile
	}
	start := time.Now()

	adapter, err := DetectAdapter(up.Headers)
	if err != nil {
		return nil, err
	}

	_, span := s.tracer.Start(ctx, "core.Preview", trace.WithAttributes(
		attribute.String("adapter", adapter.Key()),
		attribute.String("filename", up.Filename),
	))
	defer span.End()

	read := min(len(up.Rows), s.opts.PreviewReadRows)
	checked := min(read, s.opts.PreviewCheckRows)

	report := &PreviewReport{
		Adapter:          adapter.Key(),
		Headers:          up.Headers,
		HeaderMap:        adapter.HeaderMap(up.Headers),
		RowsRead:         read,
		SampleNormalized: []Candidate{},
		PreviewStats:     PreviewStats{Checked: checked},
	}

	t := &tally{report: &ImportReport{}}
	cands := validateRows(adapter, up, checked, t)

	if agg, ok := adapter.(Aggregator); ok {
		buckets, errs := agg.Aggregate(cands)
		bad := make(map[int]bool, len(errs))
		for _, e := range errs {
			bad[e.Row] = true
			t.invalid(e.Row, e.Reason, e.Meta)
		}
		kept := cands[:0]
		for _, c := range cands {
			if !bad[c.Row] {
				kept = append(kept, c)
			}
		}
		cands = kept
		// Show converted tonnes on the sample rows.
		for i := range cands {
			if tonnes, err := ToCanonicalMass(cands[i].Quantity, cands[i].Unit); err == nil {
				cands[i].CO2eTonnes = tonnes
			}
		}
		span.SetAttributes(attribute.Int("buckets", len(buckets)))
	}

	t.finish(s.opts.MaxReportedErrors)
	report.Errors = t.report.Errors
	report.PreviewStats.Problems = t.report.Invalid
	report.PreviewStats.OK = len(cands)

	for _, c := range cands {
		if len(report.SampleNormalized) >= s.opts.PreviewSampleRows {
			break
		}
		report.SampleNormalized = append(report.SampleNormalized, c)
	}

	report.ProcessingTimeMs = time.Since(start).Milliseconds()
	return report, nil
}
