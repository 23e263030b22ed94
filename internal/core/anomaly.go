package core

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MinAnomalyPoints is the shortest series with a usable robust spread.
	MinAnomalyPoints = 5

	// madScale makes the MAD a consistent estimator of the standard deviation
	// for normally distributed data.
	madScale = 1.4826

	zeroScaleEpsilon = 1e-9
)

// SeriesPoint is one annual value.
type SeriesPoint struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

// Anomaly is a flagged SeriesPoint with its robust z-score.
type Anomaly struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
	Score float64 `json:"score"`
}

// AnomalyReport is the response for facility and sector anomaly reads.
type AnomalyReport struct {
	Subject   string        `json:"subject"`
	Source    Source        `json:"source"`
	Z         float64       `json:"z"`
	Series    []SeriesPoint `json:"series"`
	Anomalies []Anomaly     `json:"anomalies"`
	Median    float64       `json:"median"`
	Scale     float64       `json:"scale"`
}

// DetectAnomalies flags points whose distance from the median, in units of
// scaled MAD, is at least z. A non-positive z means DefaultAnomalyZ.
// Series shorter than MinAnomalyPoints never produce anomalies.
// The result is ordered by year.
func DetectAnomalies(series []SeriesPoint, z float64) []Anomaly {
	found, _, _ := detect(series, z)
	return found
}

func detect(series []SeriesPoint, z float64) ([]Anomaly, float64, float64) {
	if z <= 0 {
		z = DefaultAnomalyZ
	}
	if len(series) < MinAnomalyPoints {
		return []Anomaly{}, 0, 0
	}

	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}
	med := median(values)

	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	scale := median(devs) * madScale
	if scale == 0 {
		scale = zeroScaleEpsilon
	}

	found := []Anomaly{}
	for _, p := range series {
		score := math.Abs(p.Value-med) / scale
		if score >= z {
			found = append(found, Anomaly{Year: p.Year, Value: p.Value, Score: score})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Year < found[j].Year })
	return found, med, scale
}

// median sorts a copy of values.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// AnnualSeries sums observations per year, folding monthly rows into their
// year, and returns the points ordered by year.
func AnnualSeries(obs []Observation) []SeriesPoint {
	totals := make(map[int]float64)
	for _, o := range obs {
		totals[o.Year] += o.CO2eTonnes
	}
	series := make([]SeriesPoint, 0, len(totals))
	for year, v := range totals {
		series = append(series, SeriesPoint{Year: year, Value: v})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Year < series[j].Year })
	return series
}

// FacilityAnomalies runs anomaly detection over one facility's annual series.
// An empty source means observed.
func (s *Service) FacilityAnomalies(ctx context.Context, facilityID string, z float64, source Source) (*AnomalyReport, error) {
	ctx, span := s.tracer.Start(ctx, "core.FacilityAnomalies", trace.WithAttributes(
		attribute.String("facility_id", facilityID),
	))
	defer span.End()
	s.metrics.analytics("facility_anomalies")

	if _, err := s.store.GetFacility(ctx, facilityID); err != nil {
		return nil, err
	}
	return s.anomalyReport(ctx, facilityID, []string{facilityID}, z, source)
}

// SectorAnomalies runs anomaly detection over the summed annual series of
// every facility in a sector. The sector may be given as a slug or any label
// the classifier resolves.
func (s *Service) SectorAnomalies(ctx context.Context, sector string, z float64, source Source) (*AnomalyReport, error) {
	ctx, span := s.tracer.Start(ctx, "core.SectorAnomalies", trace.WithAttributes(
		attribute.String("sector", sector),
	))
	defer span.End()
	s.metrics.analytics("sector_anomalies")

	sec, ok := SectorBySlug(sector)
	if !ok {
		c := Classify(sector)
		if !c.Matched() {
			return nil, fmt.Errorf("%w: sector %q", ErrNotFound, sector)
		}
		sec, _ = SectorBySlug(c.Slug)
	}

	facilities, err := s.store.ListFacilitiesBySector(ctx, sec.ID)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	ids := make([]string, len(facilities))
	for i, f := range facilities {
		ids[i] = f.ID
	}
	return s.anomalyReport(ctx, sec.ID, ids, z, source)
}

func (s *Service) anomalyReport(ctx context.Context, subject string, facilityIDs []string, z float64, source Source) (*AnomalyReport, error) {
	if source == "" {
		source = SourceObserved
	}
	src, ok := ParseSource(string(source))
	if !ok {
		return nil, fmt.Errorf("%w: invalid source %q", ErrInvalidArgument, source)
	}
	source = src
	if z <= 0 {
		z = DefaultAnomalyZ
	}

	report := &AnomalyReport{Subject: subject, Source: source, Z: z, Series: []SeriesPoint{}, Anomalies: []Anomaly{}}
	if len(facilityIDs) == 0 {
		return report, nil
	}

	obs, err := s.store.ListObservations(ctx, ObservationFilter{FacilityIDs: facilityIDs, Source: source})
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	report.Series = AnnualSeries(obs)
	report.Anomalies, report.Median, report.Scale = detect(report.Series, z)
	return report, nil
}
