package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ghgledger/internal/archive"
	"github.com/JonMunkholm/ghgledger/internal/core"
	_ "github.com/JonMunkholm/ghgledger/internal/core/adapters"
	"github.com/JonMunkholm/ghgledger/internal/store/memory"
)

const globalSectorCSV = `iso3_country,start_time,sector,subsector,emissions_quantity,emissions_quantity_units,temporal_granularity,gas
USA,2021-01-01T00:00:00Z,power,electricity-generation,10,t,month,co2e_100yr
USA,2021-02-01T00:00:00Z,Power,electricity-generation,20,t,month,co2e_100yr
USA,2021-03-01T00:00:00Z,electricity,electricity-generation,30,t,month,co2e_100yr
USA,2021-04-01T00:00:00Z,xyzzy,electricity-generation,30,t,month,co2e_100yr
`

type testEnv struct {
	svc     *core.Service
	archive *archive.Memory
	handler http.Handler
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	arch := archive.NewMemory()
	svc, err := core.NewService(memory.New(), core.Options{}, core.WithArchive(arch))
	require.NoError(t, err)

	if opts.Archive == nil {
		opts.Archive = arch
	}
	srv := NewServer(svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{svc: svc, archive: arch, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, target, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// ----------------------------------------------------------------------------
// Import Endpoint Tests
// ----------------------------------------------------------------------------

func TestPreviewEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, multipartRequest(t, "/api/imports/preview", "trace.csv", globalSectorCSV, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decodeBody[core.PreviewReport](t, rec)
	assert.Equal(t, core.DefaultAdapterKey, report.Adapter)
	assert.Equal(t, 4, report.PreviewStats.Checked)
	assert.Equal(t, 3, report.PreviewStats.OK)
	assert.Equal(t, 1, report.PreviewStats.Problems)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, core.ReasonUnrecognizedSector, report.Errors[0].Reason)
}

func TestCommitEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, multipartRequest(t, "/api/imports", "trace.csv", globalSectorCSV, map[string]string{
		"datasetName":     "trace",
		"datasetVersion":  "v2",
		"duplicatePolicy": "replace_if_newer",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decodeBody[core.ImportReport](t, rec)
	assert.Equal(t, 4, report.RowsTotal)
	assert.Equal(t, 3, report.Inserted)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, core.PolicyReplaceIfNewer, report.DuplicatePolicy)
	assert.Equal(t, "v2", report.DatasetVersion)
	require.NotEmpty(t, report.ArchiveKey)

	// Lineage reads.
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/"+report.ImportJobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody[core.ImportJob](t, rec)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, 3, job.Stats.RowsImported)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/datasets/"+report.DatasetID+"/imports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]core.ImportJob](t, rec), 1)

	// Raw bytes come back from the archive.
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/"+report.ImportJobID+"/raw", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, globalSectorCSV, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "trace.csv")
}

func TestCommitEndpointRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, Options{MaxFileSize: 64})

	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
		status   int
		code     string
	}{
		{"missing dataset name", "a.csv", globalSectorCSV[:60], nil, http.StatusBadRequest, "VAL005"},
		{"policy too long", "a.csv", "a,b\n1,2\n", map[string]string{"datasetName": "x", "duplicatePolicy": strings.Repeat("p", 65)}, http.StatusBadRequest, "VAL005"},
		{"no file", "", "", map[string]string{"datasetName": "x"}, http.StatusBadRequest, "FILE004"},
		{"unsupported type", "a.pdf", "%PDF", map[string]string{"datasetName": "x"}, http.StatusUnsupportedMediaType, "FILE006"},
		{"too large", "a.csv", strings.Repeat("a,b\n", 100), map[string]string{"datasetName": "x"}, http.StatusRequestEntityTooLarge, "FILE001"},
		{"header only is empty", "a.csv", "\n\n", map[string]string{"datasetName": "x"}, http.StatusBadRequest, "FILE005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, multipartRequest(t, "/api/imports", tt.filename, tt.content, tt.fields))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decodeBody[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Message)
			if tt.code != "" {
				assert.Equal(t, tt.code, resp.Code)
			}
		})
	}
}

func TestCommitValidationReportsFields(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(t, multipartRequest(t, "/api/imports", "a.csv", globalSectorCSV, map[string]string{
		"datasetName": strings.Repeat("x", 201),
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "max=200", resp.Fields["datasetName"])
}

func TestCommitUnknownPolicyNeverReplaces(t *testing.T) {
	env := newTestEnv(t, Options{})
	commit := func(version string) core.ImportReport {
		rec := env.do(t, multipartRequest(t, "/api/imports", "trace.csv", globalSectorCSV, map[string]string{
			"datasetName":     "trace",
			"datasetVersion":  version,
			"duplicatePolicy": "overwrite",
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decodeBody[core.ImportReport](t, rec)
	}

	first := commit("v1")
	assert.Equal(t, 3, first.Inserted)

	second := commit("v9")
	assert.Equal(t, 0, second.Replaced, "an unrecognized policy never replaces")
	assert.Equal(t, 3, second.Duplicates)
}

func TestImportJobNotFound(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/nope/raw", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ----------------------------------------------------------------------------
// Analytics Endpoint Tests
// ----------------------------------------------------------------------------

func TestReconcileAndExplainEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec := env.do(t, jsonRequest(t, http.MethodPost, "/api/facilities", `{"name":"Plant A","sectorId":"power"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	plant := decodeBody[core.Facility](t, rec)
	assert.Equal(t, "power", plant.SectorID)

	rec = env.do(t, jsonRequest(t, http.MethodPost, "/api/facilities", `{"name":"Plant A"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	csv := "facility_name,year,co2e_tonnes,source,method,notes\n" +
		"Plant A,2022,100000,observed,cems,\n" +
		"Plant A,2022,106000,reported,emission factor update,\n" +
		"Ghost Works,2022,5,reported,,\n"
	rec = env.do(t, multipartRequest(t, "/api/imports", "ops.csv", csv, map[string]string{"datasetName": "ops"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[core.ImportReport](t, rec)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 1, report.Skipped)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/facilities/"+plant.ID+"/reconciliation", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeBody[[]core.ReconcileRow](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, 6000.0, rows[0].Delta)
	require.NotNil(t, rows[0].Pct)
	assert.InDelta(t, 6.0, *rows[0].Pct, 1e-9)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/facilities/"+plant.ID+"/reconciliation/2022/explain", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	exp := decodeBody[core.Explanation](t, rec)
	assert.True(t, exp.Heuristic)
	assert.NotEmpty(t, exp.Disclaimer)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/facilities/"+plant.ID+"/reconciliation/22/explain", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/facilities/missing/reconciliation", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := env.svc.GetFacility(ctx, plant.ID)
	require.NoError(t, err)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/facilities/"+plant.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnomalyEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	plant, err := env.svc.RegisterFacility(ctx, core.Facility{Name: "Plant A", SectorID: "power"})
	require.NoError(t, err)
	var csv strings.Builder
	csv.WriteString("facility_name,year,co2e_tonnes,source\n")
	for i, v := range []string{"100", "102", "98", "101", "150", "99"} {
		csv.WriteString("Plant A," + []string{"2018", "2019", "2020", "2021", "2022", "2023"}[i] + "," + v + ",observed\n")
	}
	rec := env.do(t, multipartRequest(t, "/api/imports", "ops.csv", csv.String(), map[string]string{"datasetName": "ops"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/facilities/"+plant.ID+"/anomalies", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[core.AnomalyReport](t, rec)
	assert.Equal(t, core.DefaultAnomalyZ, report.Z)
	assert.Equal(t, core.SourceObserved, report.Source)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, 2022, report.Anomalies[0].Year)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/sectors/Electricity/anomalies?z=3.5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	sector := decodeBody[core.AnomalyReport](t, rec)
	assert.Equal(t, "power", sector.Subject)
	assert.Len(t, sector.Series, 6)

	for _, q := range []string{"?z=abc", "?z=-1", "?source=guessed"} {
		rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/facilities/"+plant.ID+"/anomalies"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/sectors/xyzzy/anomalies", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func jsonRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// ----------------------------------------------------------------------------
// Server Plumbing Tests
// ----------------------------------------------------------------------------

func TestHealthAndAdapters(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[healthResponse](t, rec).Status)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/adapters", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	adapters := decodeBody[[]core.AdapterInfo](t, rec)
	require.Len(t, adapters, 2)
	assert.Equal(t, "operator_generic", adapters[0].Key)
	assert.True(t, adapters[1].Default)

	down := newTestEnv(t, Options{Ping: func(context.Context) error { return errors.New("connection refused") }})
	rec = down.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitApplies(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitEnabled: true, RequestsPerMinute: 2})
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrAlreadyExists, http.StatusConflict},
		{core.ErrTooManyCommits, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{core.ErrEmptyFile, http.StatusBadRequest},
		{errors.New("connection reset by peer"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
