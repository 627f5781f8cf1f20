package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/scheduler"
)

type mockJobs struct {
	mu  sync.Mutex
	ran []string
}

func (m *mockJobs) Jobs() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: scheduler.OptimizeJobName, Schedule: "@daily"}}
}

func (m *mockJobs) RunNow(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ran = append(m.ran, name)
	return errors.New("no symbols")
}

func (m *mockJobs) runs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ran...)
}

func newTestServer(t *testing.T, jobs JobRunner, historyDB *database.DB) *Server {
	t.Helper()
	return New(Config{
		Log:       zerolog.Nop(),
		HistoryDB: historyDB,
		Optimizer: optimization.NewService(optimization.DefaultSettings(), nil, zerolog.Nop()),
		Jobs:      jobs,
		Port:      0,
		DevMode:   true,
	})
}

func get(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := get(t, s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "frontier", body["service"])
}

func TestSystemStatus(t *testing.T) {
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "history.db"), Name: "history"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	s := newTestServer(t, nil, db)

	rec := get(t, s, "GET", "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "ok", status.HistoryDB)
	require.NotNil(t, status.HistoryDBStats)
	assert.Equal(t, database.SchemaVersion, status.HistoryDBStats.SchemaVersion)
	assert.GreaterOrEqual(t, status.MemoryPercent, 0.0)
	assert.Positive(t, status.Goroutines)
	assert.NotEmpty(t, status.GoVersion)
}

func TestSystemStatus_WithoutStore(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := get(t, s, "GET", "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"history_db":"not_configured"`)
}

func TestJobs(t *testing.T) {
	jobs := &mockJobs{}
	s := newTestServer(t, jobs, nil)

	rec := get(t, s, "GET", "/api/jobs/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), scheduler.OptimizeJobName)

	rec = get(t, s, "POST", "/api/jobs/"+scheduler.OptimizeJobName, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Eventually(t, func() bool { return len(jobs.runs()) == 1 }, time.Second, 5*time.Millisecond)

	rec = get(t, s, "POST", "/api/jobs/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobs_NoScheduler(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := get(t, s, "GET", "/api/jobs/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs": []}`, rec.Body.String())

	rec = get(t, s, "POST", "/api/jobs/"+scheduler.OptimizeJobName, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptimizerRoutesMounted(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := get(t, s, "GET", "/api/optimizer/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"settings"`)

	rec = get(t, s, "POST", "/api/optimizer/allocate",
		`{"weights": {"A": 0.6, "B": 0.4}, "latest_prices": {"A": 120, "B": 30}, "budget": 1000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"leftover":10`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest("OPTIONS", "/api/optimizer/run", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
