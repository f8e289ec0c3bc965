package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/geotracks/internal/config"
	"github.com/banshee-data/geotracks/internal/db"
	"github.com/banshee-data/geotracks/internal/geodata/stats"
	"github.com/banshee-data/geotracks/internal/jobs"
	"github.com/banshee-data/geotracks/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

const tracksCSV = `randomized_id,lat,lng,alt,spd,azm
V1,51.1000,71.4000,350,5.0,90
V2,51.1200,71.4500,351,10.0,0
V1,51.1000,71.4010,350,5.0,90
V1,51.1000,71.4020,350,5.0,90
V2,51.1210,71.4500,351,12.0,0
V1,51.1000,71.4030,350,5.0,90
V2,51.1220,71.4500,351,2.0,0
`

type testEnv struct {
	srv     *Server
	store   *db.JobStore
	handler http.Handler
	uploads string
}

func setupTestServer(t *testing.T, cfg *config.AnalysisConfig) *testEnv {
	t.Helper()
	database, err := db.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	if cfg == nil {
		cfg = config.EmptyAnalysisConfig()
	}
	dir := t.TempDir()
	store := db.NewJobStore(database.DB)
	m := jobs.NewManager(store, cfg, filepath.Join(dir, "maps"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})

	s := NewServer(m, cfg, filepath.Join(dir, "uploads"), "1.2.3")
	return &testEnv{srv: s, store: store, handler: s.ServeMux(), uploads: s.uploadsDir}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type upload struct {
	filename string
	content  string
	fields   map[string]string
}

func newUploadRequest(t *testing.T, u upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range u.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if u.filename != "" {
		fw, err := mw.CreateFormFile("csvFile", u.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(u.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["error"]
}

func TestCreateJob_RunsToCompletion(t *testing.T) {
	env := setupTestServer(t, nil)

	rec := env.do(newUploadRequest(t, upload{
		filename: "trips.csv",
		content:  tracksCSV,
		fields: map[string]string{
			"analysisType":  "speed",
			"filters":       `{"speedRange": [0, 200]}`,
			"visualization": `{"intensity": "high"}`,
		},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Regexp(t, `^job_[0-9a-f]{8}$`, created.ID)
	assert.Equal(t, db.StatusPending, created.Status)
	assert.Nil(t, created.StartedAt)

	saved, err := os.ReadFile(filepath.Join(env.uploads, created.ID+"_trips.csv"))
	require.NoError(t, err)
	assert.Equal(t, tracksCSV, string(saved))

	env.srv.jobs.Wait()

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, db.StatusCompleted, got.Status, "error: %v", got.Error)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Error)

	var results jobs.Results
	require.NoError(t, json.Unmarshal(got.Results, &results))
	assert.Equal(t, 7, results.Statistics.TotalRecords)

	var cfg config.JobConfig
	require.NoError(t, json.Unmarshal(got.Config, &cfg))
	assert.Equal(t, "high", cfg.Visualization.Intensity)

	rec = env.do(httptest.NewRequest(http.MethodGet, results.MapURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<html")

	rec = env.do(httptest.NewRequest(http.MethodGet, results.GeoJSONURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	rec = env.do(httptest.NewRequest(http.MethodGet, results.HistogramURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestCreateJob_Rejects(t *testing.T) {
	maxMB := 1
	env := setupTestServer(t, &config.AnalysisConfig{MaxUploadMB: &maxMB})
	big := strings.Repeat("x", (1<<20)+512)

	tests := []struct {
		name    string
		upload  upload
		status  int
		wantErr string
	}{
		{
			name:    "not csv",
			upload:  upload{filename: "trips.txt", content: tracksCSV, fields: map[string]string{"analysisType": "speed"}},
			status:  http.StatusBadRequest,
			wantErr: "File must be a CSV",
		},
		{
			name:    "missing file",
			upload:  upload{fields: map[string]string{"analysisType": "speed"}},
			status:  http.StatusBadRequest,
			wantErr: "csvFile is required",
		},
		{
			name:    "too large",
			upload:  upload{filename: "trips.csv", content: big, fields: map[string]string{"analysisType": "speed"}},
			status:  http.StatusRequestEntityTooLarge,
			wantErr: "CSV too large",
		},
		{
			name:    "bad filters",
			upload:  upload{filename: "trips.csv", content: tracksCSV, fields: map[string]string{"analysisType": "speed", "filters": "{not json"}},
			status:  http.StatusBadRequest,
			wantErr: "filters",
		},
		{
			name:    "unknown analysis",
			upload:  upload{filename: "trips.csv", content: tracksCSV, fields: map[string]string{"analysisType": "heat"}},
			status:  http.StatusBadRequest,
			wantErr: "invalid job config",
		},
		{
			name:    "bad max rows",
			upload:  upload{filename: "trips.csv", content: tracksCSV, fields: map[string]string{"analysisType": "ghg", "maxProcessRows": "many"}},
			status:  http.StatusBadRequest,
			wantErr: "maxProcessRows",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(newUploadRequest(t, tt.upload))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decodeError(t, rec), tt.wantErr)
		})
	}

	list, err := env.store.List(0)
	require.NoError(t, err)
	assert.Empty(t, list)
	entries, _ := os.ReadDir(env.uploads)
	assert.Empty(t, entries)
}

func TestListJobs(t *testing.T) {
	env := setupTestServer(t, nil)
	for i, id := range []string{"job_a", "job_b", "job_c"} {
		require.NoError(t, env.store.Insert(&db.Job{ID: id, AnalysisType: "ghg", CreatedAt: int64(i + 1)}))
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/jobs?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var views []JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "job_c", views[0].ID)
	assert.Equal(t, "1970-01-01T00:00:00.000000003Z", views[0].CreatedAt)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/jobs?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPut, "/api/jobs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestJobEndpoints_NotFound(t *testing.T) {
	env := setupTestServer(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found", decodeError(t, rec))

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/jobs/job_missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJob(t *testing.T) {
	env := setupTestServer(t, nil)
	require.NoError(t, env.store.Insert(&db.Job{ID: "job_pending", AnalysisType: "ghg"}))
	require.NoError(t, env.store.Insert(&db.Job{ID: "job_done", AnalysisType: "ghg"}))
	now := time.Now()
	_, err := env.store.Start("job_done", now)
	require.NoError(t, err)
	_, err = env.store.Complete("job_done", json.RawMessage(`{}`), now)
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/jobs/job_pending", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())

	j, err := env.store.Get("job_pending")
	require.NoError(t, err)
	assert.Equal(t, db.StatusCancelled, j.Status)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/jobs/job_done", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cannot cancel completed job", decodeError(t, rec))
}

func TestPurgeJob(t *testing.T) {
	env := setupTestServer(t, nil)
	require.NoError(t, os.MkdirAll(env.uploads, 0o755))
	upload := filepath.Join(env.uploads, "job_done.csv")
	require.NoError(t, os.WriteFile(upload, []byte("randomized_id,lat,lng\n"), 0o644))

	require.NoError(t, env.store.Insert(&db.Job{ID: "job_pending", AnalysisType: "ghg"}))
	require.NoError(t, env.store.Insert(&db.Job{ID: "job_done", AnalysisType: "ghg", UploadPath: upload}))
	now := time.Now()
	_, err := env.store.Start("job_done", now)
	require.NoError(t, err)
	_, err = env.store.Complete("job_done", json.RawMessage(`{}`), now)
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"active job", "job_pending", http.StatusConflict},
		{"finished job", "job_done", http.StatusOK},
		{"already purged", "job_done", http.StatusNotFound},
		{"unknown job", "job_missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/jobs/"+tt.id+"?purge=true", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	_, err = os.Stat(upload)
	assert.True(t, os.IsNotExist(err))
	j, err := env.store.Get("job_pending")
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, j.Status)
}

func TestHandleMap(t *testing.T) {
	env := setupTestServer(t, nil)
	mapsDir := env.srv.jobs.MapsDir()
	require.NoError(t, os.MkdirAll(mapsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mapsDir, "job_1.geojson"), []byte(`{"type":"FeatureCollection","features":[]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(mapsDir), "secret.html"), []byte("secret"), 0o644))

	tests := []struct {
		name   string
		file   string
		status int
	}{
		{"served", "job_1.geojson", http.StatusOK},
		{"missing", "job_2.html", http.StatusNotFound},
		{"traversal", "../secret.html", http.StatusBadRequest},
		{"backslash", `..\secret.html`, http.StatusBadRequest},
		{"unknown extension", "job_1.csv", http.StatusBadRequest},
		{"dot", ".", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/maps/x", nil)
			req.SetPathValue("filename", tt.file)
			rec := httptest.NewRecorder()
			env.srv.handleMap(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "secret")
		})
	}
}

func TestHealth(t *testing.T) {
	rows := 5000
	env := setupTestServer(t, &config.AnalysisConfig{MaxProcessRows: &rows})
	env.srv.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, env.store.Insert(&db.Job{ID: "job_q", AnalysisType: "ghg"}))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"status": "healthy",
		"version": "1.2.3",
		"timestamp": "2024-05-01T12:00:00Z",
		"max_process_rows": 5000,
		"ef_kg_per_km": 0.192,
		"active_jobs": 1
	}`, rec.Body.String())
}

func TestTrafficAnalysis(t *testing.T) {
	env := setupTestServer(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/traffic-analysis?lat=51.1&lng=71.401", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rep stats.TrafficReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, 0, rep.VehicleCount)
	assert.Equal(t, "No data available", rep.Message)

	require.NoError(t, os.MkdirAll(env.uploads, 0o755))
	path := filepath.Join(env.uploads, "job_t_trips.csv")
	require.NoError(t, os.WriteFile(path, []byte(tracksCSV), 0o644))
	require.NoError(t, env.store.Insert(&db.Job{ID: "job_t", AnalysisType: "speed", UploadPath: path}))
	require.NoError(t, env.store.Insert(&db.Job{ID: "job_gone", AnalysisType: "speed", UploadPath: filepath.Join(env.uploads, "nope.csv")}))

	for _, target := range []string{
		"/api/traffic-analysis?lat=51.1&lng=71.401",
		"/api/traffic-analysis?lat=51.1&lng=71.401&radius_m=100&time_window_sec=30&job_id=job_t",
	} {
		rec = env.do(httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code, target)
		rep = stats.TrafficReport{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		assert.Equal(t, 1, rep.VehicleCount, target)
		assert.Equal(t, 3, rep.PointsInArea, target)
		assert.Equal(t, stats.LevelLight, rep.CongestionLevel, target)
	}

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing lat", "lng=71.4", http.StatusBadRequest},
		{"bad lng", "lat=51.1&lng=east", http.StatusBadRequest},
		{"bad window", "lat=51.1&lng=71.4&time_window_sec=45", http.StatusBadRequest},
		{"fractional window", "lat=51.1&lng=71.4&time_window_sec=30.9", http.StatusBadRequest},
		{"window overflows int", "lat=51.1&lng=71.4&time_window_sec=99999999999999999999", http.StatusBadRequest},
		{"exponent window", "lat=51.1&lng=71.4&time_window_sec=3e1", http.StatusBadRequest},
		{"unknown job", "lat=51.1&lng=71.4&job_id=job_nope", http.StatusNotFound},
		{"job file gone", "lat=51.1&lng=71.4&job_id=job_gone", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, "/api/traffic-analysis?"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMiddleware(t *testing.T) {
	env := setupTestServer(t, nil)
	h := env.srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/jobs", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var lines []string
	monitoring.SetLogger(func(format string, args ...interface{}) { lines = append(lines, format) })
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job_x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, lines, 1)
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{304, colorYellow + "304" + colorReset},
		{413, colorBoldRed + "413" + colorReset},
		{101, "101"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCodeColor(tt.code))
	}
}
