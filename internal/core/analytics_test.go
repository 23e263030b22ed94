package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/store/memory"
)

// ----------------------------------------------------------------------------
// Reconcile / Explain Tests
// ----------------------------------------------------------------------------

func TestReconcileAndExplainAfterCommit(t *testing.T) {
	svc := newService(t, memory.New(), core.Options{})
	plant := registerFacility(t, svc, "Plant A", "Power sector")
	if plant.SectorID != "power" {
		t.Fatalf("SectorID = %q, want power", plant.SectorID)
	}

	commit(t, svc, upload(operatorHeaders,
		[]string{"Plant A", "2022", "100000", "observed", "cems", ""},
		[]string{"Plant A", "2022", "106000", "reported", "Tier 2 calculation", "boundary now includes acquisition"},
		[]string{"Plant A", "2023", "90000", "projected", "", ""},
	), core.CommitOptions{})

	ctx := context.Background()
	rows, err := svc.Reconcile(ctx, plant.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %+v, want only 2022", rows)
	}
	if rows[0].Delta != 6000 || rows[0].Pct == nil || *rows[0].Pct != 6 {
		t.Errorf("2022 = %+v, want delta 6000 and 6%%", rows[0])
	}

	e, err := svc.Explain(ctx, plant.ID, 2022)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if e.FacilityID != plant.ID || e.Delta != 6000 {
		t.Errorf("explanation = %+v", e)
	}
	// 0.15 * 106000 per matching cue
	var ef, scope float64
	for _, b := range e.Buckets {
		switch b.Bucket {
		case "emission_factor":
			ef = b.Tonnes
		case "scope_boundary":
			scope = b.Tonnes
		}
	}
	if ef != 15900 || scope != 15900 {
		t.Errorf("emission_factor/scope_boundary = %v/%v, want 15900/15900", ef, scope)
	}
	if e.Residual != 6000-31800 {
		t.Errorf("Residual = %v, want %v", e.Residual, 6000-31800)
	}
}

func TestAnalyticsUnknownFacility(t *testing.T) {
	svc := newService(t, memory.New(), core.Options{})
	ctx := context.Background()

	if _, err := svc.Reconcile(ctx, "missing"); !core.IsNotFound(err) {
		t.Errorf("Reconcile err = %v, want not found", err)
	}
	if _, err := svc.Explain(ctx, "missing", 2020); !core.IsNotFound(err) {
		t.Errorf("Explain err = %v, want not found", err)
	}
	if _, err := svc.FacilityAnomalies(ctx, "missing", 0, ""); !core.IsNotFound(err) {
		t.Errorf("FacilityAnomalies err = %v, want not found", err)
	}
}

func TestAnomaliesRejectUnknownSource(t *testing.T) {
	svc := newService(t, memory.New(), core.Options{})
	plant := registerFacility(t, svc, "Plant A", "power")
	ctx := context.Background()

	_, err := svc.FacilityAnomalies(ctx, plant.ID, 0, "estimated")
	if !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("FacilityAnomalies err = %v, want invalid argument", err)
	}
	if got := core.MapError(err).Code; got != "VAL004" {
		t.Errorf("code = %q, want VAL004", got)
	}
	if _, err := svc.SectorAnomalies(ctx, "power", 0, "estimated"); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("SectorAnomalies err = %v, want invalid argument", err)
	}

	report, err := svc.FacilityAnomalies(ctx, plant.ID, 0, " Reported ")
	if err != nil {
		t.Fatalf("FacilityAnomalies(Reported): %v", err)
	}
	if report.Source != core.SourceReported {
		t.Errorf("Source = %q, want reported", report.Source)
	}
}

// ----------------------------------------------------------------------------
// Anomaly Tests
// ----------------------------------------------------------------------------

func TestFacilityAndSectorAnomalies(t *testing.T) {
	svc := newService(t, memory.New(), core.Options{})
	plant := registerFacility(t, svc, "Plant A", "power")
	registerFacility(t, svc, "Plant B", "power")

	values := []int{10, 11, 9, 10, 11, 10, 9, 50}
	rows := make([][]string, 0, len(values)+1)
	for i, v := range values {
		rows = append(rows, []string{"Plant A", fmt.Sprint(2015 + i), fmt.Sprint(v), "observed", "", ""})
	}
	rows = append(rows, []string{"Plant A", "2015", "999", "reported", "", ""})
	commit(t, svc, upload(operatorHeaders, rows...), core.CommitOptions{})

	ctx := context.Background()
	report, err := svc.FacilityAnomalies(ctx, plant.ID, 0, "")
	if err != nil {
		t.Fatalf("FacilityAnomalies: %v", err)
	}
	if report.Source != core.SourceObserved || report.Z != core.DefaultAnomalyZ {
		t.Errorf("defaults = %q/%v, want observed/%v", report.Source, report.Z, core.DefaultAnomalyZ)
	}
	if len(report.Series) != 8 || report.Median != 10 {
		t.Errorf("series len %d median %v, want 8 and 10", len(report.Series), report.Median)
	}
	if len(report.Anomalies) != 1 || report.Anomalies[0].Year != 2022 {
		t.Errorf("Anomalies = %+v, want 2022", report.Anomalies)
	}

	reported, err := svc.FacilityAnomalies(ctx, plant.ID, 3.5, core.SourceReported)
	if err != nil {
		t.Fatalf("FacilityAnomalies(reported): %v", err)
	}
	if len(reported.Series) != 1 || len(reported.Anomalies) != 0 {
		t.Errorf("reported = %+v, want one point and no anomalies", reported)
	}

	sector, err := svc.SectorAnomalies(ctx, "Electricity", 0, "")
	if err != nil {
		t.Fatalf("SectorAnomalies: %v", err)
	}
	if sector.Subject != "power" || len(sector.Anomalies) != 1 {
		t.Errorf("sector report = %+v, want power with one anomaly", sector)
	}

	if _, err := svc.SectorAnomalies(ctx, "xyzzy", 0, ""); !core.IsNotFound(err) {
		t.Errorf("SectorAnomalies(xyzzy) err = %v, want not found", err)
	}

	empty, err := svc.SectorAnomalies(ctx, "waste", 0, "")
	if err != nil {
		t.Fatalf("SectorAnomalies(waste): %v", err)
	}
	if len(empty.Series) != 0 || len(empty.Anomalies) != 0 {
		t.Errorf("empty sector = %+v", empty)
	}
}
