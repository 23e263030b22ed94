package adapters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

func init() {
	core.Register(Operator{})
}

var (
	opFacilityHeaders = []string{"facility_name", "facility", "site_name", "site"}
	opYearHeaders     = []string{"year", "reporting_year"}
	opTonnesHeaders   = []string{"co2e_tonnes", "tonnes", "tco2e", "emissions_tonnes", "co2e"}
	opMonthHeaders    = []string{"month"}
	opSourceHeaders   = []string{"source"}
	opScopeHeaders    = []string{"scope"}
	opMethodHeaders   = []string{"method", "methodology"}
	opNotesHeaders    = []string{"notes", "note", "comments"}
	opUnitHeaders     = []string{"unit", "units"}
)

// Operator ingests operator self-reports: one row per facility and period.
// Rows only attach to facilities that are already registered.
type Operator struct{}

func (Operator) Key() string   { return "operator_generic" }
func (Operator) Priority() int { return 20 }

// Detect requires a facility name, a "year" and a tonnes column.
func (Operator) Detect(headers []string) bool {
	set := core.HeaderSet(headers)
	return core.HasAnyHeader(set, opFacilityHeaders...) &&
		set["year"] &&
		core.HasAnyHeader(set, opTonnesHeaders...)
}

func (Operator) HeaderMap(headers []string) map[string]string {
	set := core.HeaderSet(headers)
	m := make(map[string]string)
	for field, names := range map[string][]string{
		"facility_name": opFacilityHeaders,
		"year":          opYearHeaders,
		"co2e_tonnes":   opTonnesHeaders,
		"month":         opMonthHeaders,
		"source":        opSourceHeaders,
		"scope":         opScopeHeaders,
		"method":        opMethodHeaders,
		"notes":         opNotesHeaders,
		"unit":          opUnitHeaders,
	} {
		if h := core.MatchHeader(set, names...); h != "" {
			m[field] = h
		}
	}
	return m
}

func (Operator) Validate(rec core.Record) core.ValidationResult {
	name, _ := core.FirstField(rec, opFacilityHeaders...)
	if name == "" {
		return core.Reject(core.ReasonMissingFacilityName, nil)
	}

	yearRaw, _ := core.FirstField(rec, opYearHeaders...)
	year, ok := core.ParseYearCell(yearRaw)
	if !ok {
		return core.Reject(core.ReasonBadYear, map[string]any{"year": yearRaw})
	}

	month := 0
	if raw, _ := core.FirstField(rec, opMonthHeaders...); raw != "" {
		month, ok = core.ParseMonthCell(raw)
		if !ok {
			return core.Reject(core.ReasonBadMonth, map[string]any{"month": raw})
		}
	}

	qtyRaw, _ := core.FirstField(rec, opTonnesHeaders...)
	if qtyRaw == "" {
		return core.Reject(core.ReasonMissingQuantity, nil)
	}
	qty, ok := core.ParseQuantity(qtyRaw)
	if !ok {
		return core.Reject(core.ReasonNonNumericQuantity, map[string]any{"value": qtyRaw})
	}

	source := core.SourceReported
	if raw, _ := core.FirstField(rec, opSourceHeaders...); raw != "" {
		source, ok = core.ParseSource(raw)
		if !ok {
			return core.Reject(core.ReasonBadSource, map[string]any{"source": raw})
		}
	}

	scope := 1
	if raw, _ := core.FirstField(rec, opScopeHeaders...); raw != "" {
		scope, ok = parseScope(raw)
		if !ok {
			return core.Reject(core.ReasonBadScope, map[string]any{"scope": raw})
		}
	}

	unit, _ := core.FirstField(rec, opUnitHeaders...)
	tonnes, err := core.ToCanonicalMass(qty, unit)
	if err != nil {
		return core.Reject(core.ReasonUnsupportedUnit, map[string]any{"unit": unit})
	}

	method, _ := core.FirstField(rec, opMethodHeaders...)
	notes, _ := core.FirstField(rec, opNotesHeaders...)

	g := core.GranularityAnnual
	if month != 0 {
		g = core.GranularityMonthly
	}
	return core.Accept(core.Candidate{
		FacilityName: name,
		Year:         year,
		Month:        month,
		Granularity:  g,
		Quantity:     qty,
		Unit:         unit,
		CO2eTonnes:   tonnes,
		Scope:        scope,
		Source:       source,
		Method:       method,
		Notes:        notes,
	})
}

// parseScope accepts 1-3, optionally written as "Scope 2" or "S2".
func parseScope(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "scope")
	s = strings.TrimPrefix(s, "s")
	n, err := strconv.Atoi(strings.Trim(s, " _-"))
	if err != nil {
		return 0, false
	}
	return n, n >= 1 && n <= 3
}

// Upsert looks the facility up by exact name. Unknown facilities are
// skipped, never created.
func (Operator) Upsert(ctx context.Context, st core.Store, c core.Candidate, p core.UpsertParams) (core.UpsertAction, error) {
	facility, err := st.FindFacilityByName(ctx, c.FacilityName)
	if errors.Is(err, core.ErrNotFound) {
		return core.ActionSkipUnknownFacility, nil
	}
	if err != nil {
		return "", fmt.Errorf("find facility: %w", err)
	}

	return core.WriteObservation(ctx, st, core.Observation{
		FacilityID:     facility.ID,
		Year:           c.Year,
		Month:          c.Month,
		CO2eTonnes:     c.CO2eTonnes,
		Scope:          c.Scope,
		Source:         c.Source,
		Method:         c.Method,
		Notes:          c.Notes,
		DatasetVersion: p.DatasetVersion,
		ImportJobID:    p.ImportJobID,
	}, p.Policy, true)
}
