package adapters

import (
	"context"
	"testing"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/store/memory"
)

func opRecord(overrides map[string]string) core.Record {
	rec := core.Record{
		"facility_name": "Plant A",
		"year":          "2022",
		"co2e_tonnes":   "1500",
	}
	for k, v := range overrides {
		rec[k] = v
	}
	return rec
}

// ----------------------------------------------------------------------------
// Operator Detect Tests
// ----------------------------------------------------------------------------

func TestOperatorDetect(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    bool
	}{
		{"canonical", []string{"facility_name", "year", "co2e_tonnes"}, true},
		{"display names", []string{"Site", "Year", "tCO2e", "Notes"}, true},
		{"reporting_year alone is not enough", []string{"facility", "reporting_year", "tonnes"}, false},
		{"no tonnes", []string{"facility", "year", "value"}, false},
		{"global sector file", []string{"iso3_country", "start_time", "emissions_quantity"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Operator{}).Detect(tt.headers); got != tt.want {
				t.Errorf("Detect(%v) = %v, want %v", tt.headers, got, tt.want)
			}
		})
	}
}

func TestAdapterPriority(t *testing.T) {
	all := core.All()
	if len(all) < 2 {
		t.Fatalf("registry has %d adapters, want at least 2", len(all))
	}
	if all[0].Key() != "operator_generic" {
		t.Errorf("first adapter = %q, want operator_generic", all[0].Key())
	}

	// A file that satisfies both formats goes to the operator adapter.
	a, err := core.DetectAdapter([]string{"facility", "year", "tonnes", "iso3_country", "start_time", "quantity"})
	if err != nil || a.Key() != "operator_generic" {
		t.Errorf("DetectAdapter = %v, %v, want operator_generic", a, err)
	}
}

// ----------------------------------------------------------------------------
// Operator Validate Tests
// ----------------------------------------------------------------------------

func TestOperatorValidate(t *testing.T) {
	tests := []struct {
		name       string
		overrides  map[string]string
		wantReason string
	}{
		{"valid", nil, ""},
		{"missing facility", map[string]string{"facility_name": "  "}, core.ReasonMissingFacilityName},
		{"bad year", map[string]string{"year": "FY22"}, core.ReasonBadYear},
		{"float year", map[string]string{"year": "2022.0"}, ""},
		{"bad month", map[string]string{"month": "13"}, core.ReasonBadMonth},
		{"missing quantity", map[string]string{"co2e_tonnes": ""}, core.ReasonMissingQuantity},
		{"non numeric", map[string]string{"co2e_tonnes": "about 5"}, core.ReasonNonNumericQuantity},
		{"bad source", map[string]string{"source": "rumoured"}, core.ReasonBadSource},
		{"bad scope", map[string]string{"scope": "4"}, core.ReasonBadScope},
		{"scope words", map[string]string{"scope": "Scope 2"}, ""},
		{"unsupported unit", map[string]string{"unit": "lbs"}, core.ReasonUnsupportedUnit},
		{"facility before year", map[string]string{"facility_name": "", "year": "x"}, core.ReasonMissingFacilityName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := (Operator{}).Validate(opRecord(tt.overrides))
			if tt.wantReason == "" {
				if !res.OK {
					t.Fatalf("Validate() rejected with %q %v", res.Reason, res.Meta)
				}
				return
			}
			if res.OK || res.Reason != tt.wantReason {
				t.Errorf("Validate() = ok %v reason %q, want %q", res.OK, res.Reason, tt.wantReason)
			}
		})
	}
}

func TestOperatorValidateCandidate(t *testing.T) {
	res := (Operator{}).Validate(opRecord(map[string]string{
		"month":  "04",
		"unit":   "kt",
		"source": "Observed",
		"scope":  "S3",
		"method": "CEMS",
		"notes":  "stack 2 offline",
	}))
	if !res.OK {
		t.Fatalf("Validate() rejected: %q", res.Reason)
	}
	c := res.Candidate
	if c.CO2eTonnes != 1_500_000 || c.Quantity != 1500 {
		t.Errorf("quantity/tonnes = %v/%v, want 1500/1500000", c.Quantity, c.CO2eTonnes)
	}
	if c.Month != 4 || c.Granularity != core.GranularityMonthly {
		t.Errorf("month/granularity = %d/%q", c.Month, c.Granularity)
	}
	if c.Source != core.SourceObserved || c.Scope != 3 {
		t.Errorf("source/scope = %q/%d", c.Source, c.Scope)
	}
	if c.Method != "CEMS" || c.Notes != "stack 2 offline" {
		t.Errorf("method/notes = %q/%q", c.Method, c.Notes)
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"1", 1, true},
		{"scope 2", 2, true},
		{"Scope_3", 3, true},
		{"S1", 1, true},
		{"0", 0, false},
		{"4", 4, false},
		{"scope", 0, false},
		{"two", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseScope(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("parseScope(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

// ----------------------------------------------------------------------------
// Operator Upsert Tests
// ----------------------------------------------------------------------------

func TestOperatorUpsert(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	f, err := st.CreateFacility(ctx, core.Facility{Name: "Plant A"})
	if err != nil {
		t.Fatal(err)
	}

	c := core.Candidate{FacilityName: "Plant A", Year: 2022, CO2eTonnes: 10, Scope: 1, Source: core.SourceReported}
	p := core.UpsertParams{DatasetVersion: "v1", Policy: core.PolicyReplaceIfNewer, ImportJobID: "job-1"}

	action, err := (Operator{}).Upsert(ctx, st, c, p)
	if err != nil || action != core.ActionInserted {
		t.Fatalf("first Upsert = %q, %v, want inserted", action, err)
	}

	c.CO2eTonnes, c.Scope = 12, 2
	p.DatasetVersion = "v2"
	action, err = (Operator{}).Upsert(ctx, st, c, p)
	if err != nil || action != core.ActionReplaced {
		t.Fatalf("second Upsert = %q, %v, want replaced", action, err)
	}
	obs, err := st.GetObservation(ctx, core.ObservationKey{FacilityID: f.ID, Year: 2022, Source: core.SourceReported})
	if err != nil {
		t.Fatal(err)
	}
	if obs.CO2eTonnes != 12 || obs.Scope != 2 {
		t.Errorf("observation = %+v, want 12 t scope 2", obs)
	}

	c.FacilityName = "Unknown"
	action, err = (Operator{}).Upsert(ctx, st, c, p)
	if err != nil || action != core.ActionSkipUnknownFacility {
		t.Errorf("unknown facility Upsert = %q, %v, want skip", action, err)
	}
}
