package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zertoslack/zertoslack/internal/logbuffer"
	"github.com/zertoslack/zertoslack/internal/metrics"
	"github.com/zertoslack/zertoslack/internal/store"
	"github.com/zertoslack/zertoslack/internal/types"
	"github.com/zertoslack/zertoslack/internal/zerto"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeSource struct {
	src    *types.Source
	health zerto.SourceHealth
}

func (f fakeSource) Source() *types.Source      { return f.src }
func (f fakeSource) Health() zerto.SourceHealth { return f.health }

func newTestServer(t *testing.T) (*Server, *store.Store, []*types.Source) {
	t.Helper()
	sources := []*types.Source{
		{Label: "zvm-a", Address: "10.0.0.1"},
		{Label: "zvm-b", Address: "10.0.0.2"},
	}
	st, err := store.New(sources, zerolog.Nop())
	require.NoError(t, err)
	st.AddAlert(sources[0], &types.Alert{Link: types.Link{Identifier: "a-1"}, Level: types.LevelError})

	srv := NewServer(st, zerolog.Nop(), "0")
	srv.SetHealthSources([]HealthSource{
		fakeSource{src: sources[0], health: zerto.SourceHealth{LoggedIn: true, PollCount: 3}},
		fakeSource{src: sources[1], health: zerto.SourceHealth{LastError: "timeout", FailCount: 1}},
	})
	return srv, st, sources
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := get(t, srv.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.EqualValues(t, 1, body["total_alerts"])
	sources, ok := body["sources"].([]interface{})
	require.True(t, ok)
	require.Len(t, sources, 2)

	first := sources[0].(map[string]interface{})
	assert.Equal(t, "zvm-a", first["label"])
	assert.EqualValues(t, 1, first["stored_alerts"])
	assert.Equal(t, true, first["health"].(map[string]interface{})["logged_in"])

	second := sources[1].(map[string]interface{})
	assert.Equal(t, "timeout", second["health"].(map[string]interface{})["last_error"])
}

func TestAlerts(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := get(t, srv.Handler(), "/alerts")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.EqualValues(t, 1, body["count"])
	bySource := body["alerts"].(map[string]interface{})
	assert.Len(t, bySource["zvm-a"], 1)
	assert.Len(t, bySource["zvm-b"], 0)
}

func TestSourceAlerts(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := get(t, srv.Handler(), "/alerts/zvm-a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, _ = get(t, srv.Handler(), "/alerts/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogs(t *testing.T) {
	srv, _, _ := newTestServer(t)
	lb := logbuffer.New(10)
	logger := zerolog.New(lb)
	logger.Info().Msg("first")
	logger.Error().Msg("second")
	srv.SetLogBuffer(lb)

	rec, body := get(t, srv.Handler(), "/api/logs?level=error")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, _ = get(t, srv.Handler(), "/api/logs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogs_NoBuffer(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := get(t, srv.Handler(), "/api/logs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["count"])
}

func TestMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.EventEmitted("zvm-a", types.KindNew)
	srv.SetGatherer(reg)

	rec, _ := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `zerto_slack_events_total{kind="new",source="zvm-a"} 1`)
}

func TestHealthServer_TracksSources(t *testing.T) {
	hs := NewHealthServer([]string{"zvm-a"}, zerolog.Nop(), "0")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Health().Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("zvm-a"))

	hs.SetSourceHealth("zvm-a", true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("zvm-a"))

	hs.SetSourceHealth("zvm-a", false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("zvm-a"))

	_, err := hs.Health().Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)
}
