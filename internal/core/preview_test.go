package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/store/memory"
)

// ----------------------------------------------------------------------------
// Preview Tests
// ----------------------------------------------------------------------------

func TestPreviewGlobalSector(t *testing.T) {
	st := memory.New()
	svc := newService(t, st, core.Options{})

	up := upload(globalSectorHeaders,
		gsRow("power", "2021-01-01", "5", "kt", "annual"),
		gsRow("bogus", "2021-01-01", "5", "kt", "annual"),
	)
	report, err := svc.Preview(context.Background(), up)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	if report.Adapter != core.DefaultAdapterKey {
		t.Errorf("Adapter = %q, want %q", report.Adapter, core.DefaultAdapterKey)
	}
	if report.HeaderMap["quantity"] != "emissions_quantity" {
		t.Errorf("HeaderMap[quantity] = %q, want emissions_quantity", report.HeaderMap["quantity"])
	}
	if report.RowsRead != 2 || report.PreviewStats != (core.PreviewStats{Checked: 2, OK: 1, Problems: 1}) {
		t.Errorf("RowsRead/PreviewStats = %d/%+v", report.RowsRead, report.PreviewStats)
	}
	if len(report.SampleNormalized) != 1 {
		t.Fatalf("SampleNormalized = %+v, want 1 candidate", report.SampleNormalized)
	}
	c := report.SampleNormalized[0]
	if c.SectorSlug != "power" || c.CO2eTonnes != 5000 || c.Row != 1 {
		t.Errorf("sample = %+v, want power row 1 at 5000 t", c)
	}
	if len(report.Errors) != 1 || report.Errors[0].Reason != core.ReasonUnrecognizedSector {
		t.Errorf("Errors = %+v, want one unrecognized_sector", report.Errors)
	}

	all, err := st.ListObservations(context.Background(), core.ObservationFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("Preview wrote %d observations", len(all))
	}
}

func TestPreviewLimits(t *testing.T) {
	svc := newService(t, memory.New(), core.Options{PreviewReadRows: 4, PreviewCheckRows: 3, PreviewSampleRows: 2})

	rows := make([][]string, 6)
	for i := range rows {
		rows[i] = gsRow("power", "2021-01-01", "1", "t", "annual")
	}
	report, err := svc.Preview(context.Background(), upload(globalSectorHeaders, rows...))
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if report.RowsRead != 4 {
		t.Errorf("RowsRead = %d, want 4", report.RowsRead)
	}
	if report.PreviewStats.Checked != 3 || report.PreviewStats.OK != 3 {
		t.Errorf("PreviewStats = %+v, want 3 checked and ok", report.PreviewStats)
	}
	if len(report.SampleNormalized) != 2 {
		t.Errorf("len(SampleNormalized) = %d, want 2", len(report.SampleNormalized))
	}
}

func TestPreviewSurfacesUnitFailures(t *testing.T) {
	svc := newService(t, memory.New(), core.Options{})

	report, err := svc.Preview(context.Background(), upload(globalSectorHeaders,
		gsRow("power", "2021-01-01", "1", "t", "annual"),
		gsRow("power", "2021-02-01", "1", "stone", "annual"),
	))
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if report.PreviewStats.OK != 0 || report.PreviewStats.Problems != 2 {
		t.Errorf("PreviewStats = %+v, want 0 ok and 2 problems", report.PreviewStats)
	}
	for _, e := range report.Errors {
		if e.Reason != core.ReasonException {
			t.Errorf("error = %+v, want exception", e)
		}
	}
}

func TestPreviewOperator(t *testing.T) {
	svc := newService(t, memory.New(), core.Options{})

	report, err := svc.Preview(context.Background(), upload(operatorHeaders,
		[]string{"Plant A", "2021", "1,200.5", "observed", "CEMS", ""},
		[]string{"Plant B", "2021", "12", "guessed", "", ""},
	))
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if report.Adapter != "operator_generic" {
		t.Fatalf("Adapter = %q, want operator_generic", report.Adapter)
	}
	if len(report.SampleNormalized) != 1 || report.SampleNormalized[0].CO2eTonnes != 1200.5 {
		t.Errorf("SampleNormalized = %+v", report.SampleNormalized)
	}
	if len(report.Errors) != 1 || report.Errors[0].Reason != core.ReasonBadSource {
		t.Errorf("Errors = %+v, want one bad_source", report.Errors)
	}
}

func TestPreviewEmptyFile(t *testing.T) {
	svc := newService(t, memory.New(), core.Options{})
	if _, err := svc.Preview(context.Background(), core.Upload{}); !errors.Is(err, core.ErrEmptyFile) {
		t.Errorf("Preview(empty) err = %v, want ErrEmptyFile", err)
	}
}
