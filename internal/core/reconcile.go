package core

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReconcileRow is the observed vs reported comparison for one year.
type ReconcileRow struct {
	Year            int      `json:"year"`
	Observed        float64  `json:"observed"`
	Reported        float64  `json:"reported"`
	Delta           float64  `json:"delta"`
	Pct             *float64 `json:"pct"` // nil when observed <= 0
	ObservedVersion string   `json:"observedVersion,omitempty"`
	ReportedVersion string   `json:"reportedVersion,omitempty"`
}

// Reconcile sums a facility's observations per (year, source) and compares
// the reported series against the observed one.
func (s *Service) Reconcile(ctx context.Context, facilityID string) ([]ReconcileRow, error) {
	ctx, span := s.tracer.Start(ctx, "core.Reconcile", trace.WithAttributes(
		attribute.String("facility_id", facilityID),
	))
	defer span.End()
	s.metrics.analytics("reconcile")

	if _, err := s.store.GetFacility(ctx, facilityID); err != nil {
		return nil, err
	}
	obs, err := s.store.ListObservations(ctx, ObservationFilter{FacilityIDs: []string{facilityID}})
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	return ReconcileObservations(obs), nil
}

// ReconcileObservations folds observations into per-year rows, years ascending.
// Projected observations are ignored.
func ReconcileObservations(obs []Observation) []ReconcileRow {
	byYear := make(map[int]*ReconcileRow)
	for _, o := range obs {
		if o.Source != SourceObserved && o.Source != SourceReported {
			continue
		}
		row, ok := byYear[o.Year]
		if !ok {
			row = &ReconcileRow{Year: o.Year}
			byYear[o.Year] = row
		}
		switch o.Source {
		case SourceObserved:
			row.Observed += o.CO2eTonnes
			if o.DatasetVersion > row.ObservedVersion {
				row.ObservedVersion = o.DatasetVersion
			}
		case SourceReported:
			row.Reported += o.CO2eTonnes
			if o.DatasetVersion > row.ReportedVersion {
				row.ReportedVersion = o.DatasetVersion
			}
		}
	}

	rows := make([]ReconcileRow, 0, len(byYear))
	for _, row := range byYear {
		row.Delta = row.Reported - row.Observed
		if row.Observed > 0 {
			pct := 100 * row.Delta / row.Observed
			row.Pct = &pct
		}
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Year < rows[j].Year })
	return rows
}

// Explain weighting. Both values are heuristics, not physically derived.
var (
	// ExplainCueWeight is the share of a reported observation's tonnes
	// attributed to each matching cue.
	ExplainCueWeight = 0.15

	// ExplainRoundingFloor zeroes buckets whose magnitude is below it (tonnes).
	ExplainRoundingFloor = 1.0
)

// ExplainDisclaimer is returned with every Explanation.
const ExplainDisclaimer = "Heuristic decomposition from free-text cues in reported method and notes fields. " +
	"Bucket sizes use a fixed weight per cue and are not an accounting reconciliation."

type explainCue struct {
	bucket   string
	polarity float64
	pattern  *regexp.Regexp
}

// explainCues is evaluated in order; the order is also the bucket order in responses.
var explainCues = []explainCue{
	{"measurement_method", +1, regexp.MustCompile(`(?i)\b(cems|continuous emissions? monitor\w*|direct measurement|measured|metered|monitoring (method|change)|methodology change)\b`)},
	{"emission_factor", +1, regexp.MustCompile(`(?i)\b(emission factors?|ef update|gwp|ar[456]|calculation|model(l?ed)?|tier [123])\b`)},
	{"estimation_gap", -1, regexp.MustCompile(`(?i)\b(estimat\w*|gap[- ]?fill\w*|extrapolat\w*|missing data|interpolat\w*|proxy)\b`)},
	{"biogenic_exclusion", -1, regexp.MustCompile(`(?i)\b(biogenic|biomass|bio[- ]?fuels?|excluded? biogenic)\b`)},
	{"venting_flaring", -1, regexp.MustCompile(`(?i)\b(vent(ing|ed)?|flar(e|ing|ed)|fugitive)\b`)},
	{"scope_boundary", +1, regexp.MustCompile(`(?i)\b(scope|boundary|organi[sz]ational|operational control|equity share|divest\w*|acquisi\w*)\b`)},
}

// ExplainBucket is one labeled share of a year's delta.
type ExplainBucket struct {
	Bucket string  `json:"bucket"`
	Tonnes float64 `json:"tonnes"`
}

// Explanation decomposes one year's reconciliation delta.
type Explanation struct {
	FacilityID string          `json:"facilityId"`
	Year       int             `json:"year"`
	Observed   float64         `json:"observed"`
	Reported   float64         `json:"reported"`
	Delta      float64         `json:"delta"`
	Buckets    []ExplainBucket `json:"buckets"`
	Residual   float64         `json:"residual"`
	Heuristic  bool            `json:"heuristic"`
	Disclaimer string          `json:"disclaimer"`
}

// Explain attributes a year's delta to text cues found in the reported
// observations of that year. Whatever is left is returned as Residual.
func (s *Service) Explain(ctx context.Context, facilityID string, year int) (*Explanation, error) {
	ctx, span := s.tracer.Start(ctx, "core.Explain", trace.WithAttributes(
		attribute.String("facility_id", facilityID),
		attribute.Int("year", year),
	))
	defer span.End()
	s.metrics.analytics("explain")

	if _, err := s.store.GetFacility(ctx, facilityID); err != nil {
		return nil, err
	}
	obs, err := s.store.ListObservations(ctx, ObservationFilter{FacilityIDs: []string{facilityID}, Year: year})
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	e := ExplainObservations(obs, year)
	e.FacilityID = facilityID
	return e, nil
}

// ExplainObservations builds an Explanation from the observations of one year.
func ExplainObservations(obs []Observation, year int) *Explanation {
	e := &Explanation{Year: year, Heuristic: true, Disclaimer: ExplainDisclaimer}

	totals := make([]float64, len(explainCues))
	for _, o := range obs {
		if o.Year != year {
			continue
		}
		switch o.Source {
		case SourceObserved:
			e.Observed += o.CO2eTonnes
		case SourceReported:
			e.Reported += o.CO2eTonnes
			text := o.Method + " " + o.Notes
			for i, cue := range explainCues {
				if cue.pattern.MatchString(text) {
					totals[i] += cue.polarity * ExplainCueWeight * o.CO2eTonnes
				}
			}
		}
	}
	e.Delta = e.Reported - e.Observed

	var explained float64
	e.Buckets = make([]ExplainBucket, len(explainCues))
	for i, cue := range explainCues {
		v := totals[i]
		if math.Abs(v) < ExplainRoundingFloor {
			v = 0
		}
		explained += v
		e.Buckets[i] = ExplainBucket{Bucket: cue.bucket, Tonnes: v}
	}
	e.Residual = e.Delta - explained
	return e
}
