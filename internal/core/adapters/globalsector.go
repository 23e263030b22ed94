package adapters

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

func init() {
	core.Register(GlobalSector{})
}

// GlobalSectorMethod is the method recorded on aggregated global-sector observations.
const GlobalSectorMethod = "global_sector_aggregate"

// Header aliases for the global-sector export, normalized.
var (
	gsCountryHeaders     = []string{"iso3_country", "country_code", "iso3", "country"}
	gsStartHeaders       = []string{"start_time", "start_date"}
	gsQuantityHeaders    = []string{"emissions_quantity", "quantity", "value"}
	gsSectorHeaders      = []string{"sector", "sector_name", "original_inventory_sector"}
	gsSubsectorHeaders   = []string{"subsector", "sub_sector", "subsector_name"}
	gsUnitHeaders        = []string{"emissions_quantity_units", "unit", "units"}
	gsGranularityHeaders = []string{"temporal_granularity", "granularity"}
	gsGasHeaders         = []string{"gas"}
)

// GlobalSector ingests satellite-derived sector totals broken down by
// country and period. Rows are folded into one annual observation per
// (sector, subsector, year), attached to a synthetic facility.
//
// It is also the fallback adapter when no other format is detected.
type GlobalSector struct{}

func (GlobalSector) Key() string   { return core.DefaultAdapterKey }
func (GlobalSector) Priority() int { return 10 }

// Detect requires a country code, a start time and a quantity column.
func (GlobalSector) Detect(headers []string) bool {
	set := core.HeaderSet(headers)
	return core.HasAnyHeader(set, gsCountryHeaders...) &&
		core.HasAnyHeader(set, gsStartHeaders...) &&
		core.HasAnyHeader(set, gsQuantityHeaders...)
}

func (GlobalSector) HeaderMap(headers []string) map[string]string {
	set := core.HeaderSet(headers)
	m := make(map[string]string)
	for field, names := range map[string][]string{
		"country":     gsCountryHeaders,
		"start_time":  gsStartHeaders,
		"quantity":    gsQuantityHeaders,
		"sector":      gsSectorHeaders,
		"subsector":   gsSubsectorHeaders,
		"unit":        gsUnitHeaders,
		"granularity": gsGranularityHeaders,
		"gas":         gsGasHeaders,
	} {
		if h := core.MatchHeader(set, names...); h != "" {
			m[field] = h
		}
	}
	return m
}

// Validate checks, in order: sector, year, granularity, quantity, month, gas.
func (GlobalSector) Validate(rec core.Record) core.ValidationResult {
	sectorRaw, _ := core.FirstField(rec, gsSectorHeaders...)
	cls := core.Classify(sectorRaw)
	if !cls.Matched() {
		return core.Reject(core.ReasonUnrecognizedSector, map[string]any{
			"sector_raw":        sectorRaw,
			"sector_confidence": cls.Confidence,
		})
	}

	start, _ := core.FirstField(rec, gsStartHeaders...)
	year, ok := core.YearFromTime(start)
	if !ok {
		return core.Reject(core.ReasonBadYear, map[string]any{"start_time": start})
	}

	granRaw, _ := core.FirstField(rec, gsGranularityHeaders...)
	gran, ok := NormalizeGranularity(granRaw)
	if !ok {
		return core.Reject(core.ReasonUnsupportedGranularity, map[string]any{"granularity": granRaw})
	}

	qtyRaw, _ := core.FirstField(rec, gsQuantityHeaders...)
	if qtyRaw == "" {
		return core.Reject(core.ReasonMissingQuantity, nil)
	}
	qty, ok := core.ParseQuantity(qtyRaw)
	if !ok {
		return core.Reject(core.ReasonNonNumericQuantity, map[string]any{"value": qtyRaw})
	}

	month := 0
	if gran == core.GranularityMonthly {
		month, ok = core.MonthFromTime(start)
		if !ok {
			return core.Reject(core.ReasonBadMonth, map[string]any{"start_time": start})
		}
	}

	if gas, present := core.FirstField(rec, gsGasHeaders...); present && !IsCO2eGas(gas) {
		return core.Reject(core.ReasonNonCO2eGas, map[string]any{"gas": gas})
	}

	subsector, _ := core.FirstField(rec, gsSubsectorHeaders...)
	unit, _ := core.FirstField(rec, gsUnitHeaders...)

	return core.Accept(core.Candidate{
		SectorSlug:  cls.Slug,
		Subsector:   subsector,
		Year:        year,
		Month:       month,
		Granularity: gran,
		Quantity:    qty,
		Unit:        unit,
		Scope:       1,
		Source:      core.SourceObserved,
		Method:      GlobalSectorMethod,
		Meta: map[string]any{
			"sector_raw":        sectorRaw,
			"sector_confidence": cls.Confidence,
		},
	})
}

type bucketKey struct {
	slug      string
	subsector string
	year      int
}

// Aggregate sums candidates per (sector, subsector, year) in tonnes CO2e.
// Monthly rows fold into their year. If any row of a bucket has an
// unsupported unit, the whole bucket is rejected.
func (GlobalSector) Aggregate(cands []core.Candidate) ([]core.Bucket, []core.RowError) {
	var order []bucketKey
	groups := make(map[bucketKey][]core.Candidate)
	for _, c := range cands {
		k := bucketKey{slug: c.SectorSlug, subsector: c.Subsector, year: c.Year}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}

	var (
		buckets []core.Bucket
		errs    []core.RowError
	)
	for _, k := range order {
		members := groups[k]
		rows := make([]int, len(members))
		var total float64
		var convErr error
		for i, c := range members {
			rows[i] = c.Row
			tonnes, err := core.ToCanonicalMass(c.Quantity, c.Unit)
			if err != nil && convErr == nil {
				convErr = err
			}
			total += tonnes
		}
		if convErr != nil {
			for _, c := range members {
				errs = append(errs, core.RowError{
					Row:    c.Row,
					Reason: core.ReasonException,
					Meta:   map[string]any{"error": convErr.Error(), "unit": c.Unit},
				})
			}
			continue
		}

		first := members[0]
		buckets = append(buckets, core.Bucket{
			Candidate: core.Candidate{
				Row:         first.Row,
				SectorSlug:  k.slug,
				Subsector:   k.subsector,
				Year:        k.year,
				Granularity: core.GranularityAnnual,
				Quantity:    total,
				Unit:        "t",
				CO2eTonnes:  total,
				Scope:       1,
				Source:      core.SourceObserved,
				Method:      GlobalSectorMethod,
				Meta:        map[string]any{"rows": len(members)},
			},
			Rows: rows,
		})
	}
	return buckets, errs
}

// Upsert writes one aggregated bucket against its synthetic facility.
func (GlobalSector) Upsert(ctx context.Context, st core.Store, c core.Candidate, p core.UpsertParams) (core.UpsertAction, error) {
	sector, ok := core.SectorBySlug(c.SectorSlug)
	if !ok {
		return "", fmt.Errorf("unknown sector slug %q", c.SectorSlug)
	}
	if err := st.EnsureSector(ctx, sector); err != nil {
		return "", fmt.Errorf("ensure sector: %w", err)
	}

	meta := map[string]string{"synthetic": "true", "sector": sector.ID}
	if c.Subsector != "" {
		meta["subsector"] = c.Subsector
	}
	facility, err := st.GetOrCreateFacility(ctx, core.Facility{
		Name:     SyntheticFacilityName(sector, c.Subsector),
		SectorID: sector.ID,
		Meta:     meta,
	})
	if err != nil {
		return "", fmt.Errorf("get or create facility: %w", err)
	}

	return core.WriteObservation(ctx, st, core.Observation{
		FacilityID:     facility.ID,
		Year:           c.Year,
		CO2eTonnes:     c.CO2eTonnes,
		Scope:          1,
		Source:         core.SourceObserved,
		Method:         GlobalSectorMethod,
		DatasetVersion: p.DatasetVersion,
		ImportJobID:    p.ImportJobID,
	}, p.Policy, false)
}

// SyntheticFacilityName is "<Sector> / <subsector>", or the sector name
// alone when subsector is empty. The name is stable across commits.
func SyntheticFacilityName(sector core.Sector, subsector string) string {
	if subsector == "" {
		return sector.Name
	}
	return sector.Name + " / " + subsector
}
