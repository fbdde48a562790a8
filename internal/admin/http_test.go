package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/ot-databroker/internal/broker"
	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/observability"
	"github.com/signalsfoundry/ot-databroker/model"
)

func testDeps(t *testing.T) Dependencies {
	t.Helper()
	link := ipc.NewMemLink(10,
		[]model.Point{{Name: "tank_level", Kind: "DOUBLE", Value: 1.5, Time: 0.1}},
		[]model.Point{{Name: "pump_cmd", Kind: "DOUBLE"}},
	)
	meta, err := link.Handshake()
	require.NoError(t, err)

	session := broker.NewSession()
	require.NoError(t, session.Start(meta, link))
	_, err = session.Exchange(link)
	require.NoError(t, err)

	metrics, err := observability.NewBrokerCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	stats := broker.NewStepStats(16)
	stats.Add(2*time.Millisecond, false)

	return Dependencies{
		Session:   session,
		Stats:     stats,
		Sems:      ipc.NewMemBank(),
		Metrics:   metrics,
		Role:      "push",
		Simulator: model.SimulatorSpec{Executable: "Simulink"},
		Version:   "test",
	}
}

func get(t *testing.T, deps Dependencies, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := NewRouter(deps)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsStopping(t *testing.T) {
	deps := testDeps(t)

	rec := get(t, deps, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	require.NoError(t, deps.Sems.SignalStop())
	rec = get(t, deps, "/api/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stopping", body["status"])
}

func TestSessionEndpoint(t *testing.T) {
	deps := testDeps(t)

	rec := get(t, deps, "/api/session")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, deps.Session.ID, resp.SessionID)
	assert.True(t, resp.Started)
	assert.True(t, resp.External)
	assert.Equal(t, "push", resp.Role)
	assert.Equal(t, uint64(1), resp.Step)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, 1, resp.Metadata.PublishCount)
	require.NotNil(t, resp.Pacing)
	assert.Equal(t, 1, resp.Pacing.Count)
}

func TestPointsJSONAndFilter(t *testing.T) {
	deps := testDeps(t)

	rec := get(t, deps, "/api/points")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Publish, 1)
	require.Len(t, snap.Update, 1)
	assert.Equal(t, "tank_level", snap.Publish[0].Name)
	assert.InDelta(t, 1.5, snap.Publish[0].Value, 1e-9)

	rec = get(t, deps, "/api/points?table=update")
	snap = model.Snapshot{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Empty(t, snap.Publish)
	assert.Equal(t, "pump_cmd", snap.Update[0].Name)

	rec = get(t, deps, "/api/points?table=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPointsMsgpack(t *testing.T) {
	deps := testDeps(t)

	rec := get(t, deps, "/api/points/msgpack")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))

	var snap model.Snapshot
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, deps.Session.ID, snap.SessionID)
	require.Len(t, snap.Publish, 1)
	assert.Equal(t, "tank_level", snap.Publish[0].Name)
}

func TestMetricsEndpoint(t *testing.T) {
	deps := testDeps(t)
	deps.Metrics.ObserveIngress(observability.IngressApplied)

	rec := get(t, deps, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker_ingress_messages_total")
}
