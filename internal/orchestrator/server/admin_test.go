package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetrics struct {
	recorded bool
}

func (f *fakeMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (f *fakeMetrics) RecordAdminRequest(path, status string, duration time.Duration) {
	f.recorded = true
}

type fakeTokenIssuer struct{}

func (fakeTokenIssuer) IssueRobotToken(robotID string, scopes []string) (IssuedToken, error) {
	return IssuedToken{Value: "tok-" + robotID, RobotID: robotID, Scopes: scopes, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeStats struct{}

func (fakeStats) QueueStats() interface{}    { return map[string]int{"queued": 3} }
func (fakeStats) DispatchStats() interface{} { return map[string]int{"total": 7} }
func (fakeStats) UpcomingRuns(limit int) interface{} {
	return []string{"s1", "s2"}
}
func (fakeStats) DashboardMetrics() interface{} { return map[string]int{"active_robots": 5} }

func TestAdminHealthEndpoint(t *testing.T) {
	a := NewAdminServer(":0", fakeStats{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAdminQueueStatsEndpoint(t *testing.T) {
	a := NewAdminServer(":0", fakeStats{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body["queued"])
}

func TestAdminDashboardEndpoint(t *testing.T) {
	a := NewAdminServer(":0", fakeStats{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminUnknownRouteNotFound(t *testing.T) {
	a := NewAdminServer(":0", fakeStats{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminMetricsEndpointAndMiddleware(t *testing.T) {
	fm := &fakeMetrics{}
	a := NewAdminServer(":0", fakeStats{}, fm, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fm.recorded)
}

func TestAdminIssueTokenEndpoint(t *testing.T) {
	a := NewAdminServer(":0", fakeStats{}, nil, fakeTokenIssuer{}, nil)

	body := strings.NewReader(`{"scopes":["jobs:execute"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/robots/r1/token", body)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var issued IssuedToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	assert.Equal(t, "r1", issued.RobotID)
	assert.Equal(t, []string{"jobs:execute"}, issued.Scopes)
}
