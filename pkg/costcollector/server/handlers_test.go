package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/clock"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/collector"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/cost"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/health"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/store"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/timewindow"
)

var apiNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakePower struct {
	containers *collector.ContainerResult
	nodes      *collector.NodeResult
	err        error
	gotOpts    collector.Options
}

func (f *fakePower) Containers(ctx context.Context, opts collector.Options) (*collector.ContainerResult, error) {
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.containers, nil
}

func (f *fakePower) Nodes(ctx context.Context) (*collector.NodeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.nodes, nil
}

func (f *fakePower) WorkloadSummary(ctx context.Context, workload string) (*collector.WorkloadSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &collector.WorkloadSummary{WorkloadName: workload, CollectedAt: apiNow}
	for _, r := range f.containers.Records {
		s.Records = append(s.Records, r)
		s.TotalPowerJoules += r.TotalJoules()
		s.Containers = append(s.Containers, collector.WorkloadContainer{Name: r.ContainerName, Pod: r.PodName, Namespace: r.Namespace, PowerJoules: r.TotalJoules()})
	}
	s.ContainerCount = len(s.Containers)
	return s, nil
}

type fakeHealth struct {
	report health.Report
}

func (f fakeHealth) Check(ctx context.Context) health.Report {
	return f.report
}

type fakeCollection struct {
	running   bool
	snapshots map[power.Scope]*collector.Snapshot
}

func (f *fakeCollection) Start(ctx context.Context) error {
	if f.running {
		return collector.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeCollection) Stop() error {
	if !f.running {
		return collector.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeCollection) Running() bool           { return f.running }
func (f *fakeCollection) Interval() time.Duration { return 5 * time.Minute }

func (f *fakeCollection) Latest(scope power.Scope) (*collector.Snapshot, bool) {
	s, ok := f.snapshots[scope]
	return s, ok
}

func sampleContainers() *collector.ContainerResult {
	return &collector.ContainerResult{
		Records: []power.ContainerRecord{
			{
				ContainerName: "app",
				PodName:       "web-1",
				Namespace:     "prod",
				NodeName:      "node-a",
				Components:    power.Components{power.ComponentTotal: 3_600_000, power.ComponentCPU: 1_000_000},
				Timestamp:     apiNow,
			},
			{
				ContainerName: "sidecar",
				PodName:       "web-1",
				Namespace:     "prod",
				NodeName:      "node-a",
				Components:    power.Components{power.ComponentTotal: 3_600_000},
				Timestamp:     apiNow,
			},
		},
		CollectedAt: apiNow,
	}
}

type testEnv struct {
	power      *fakePower
	collection *fakeCollection
	history    *store.SQLiteStore
	router     http.Handler
}

func newTestEnv(t *testing.T, report health.Report) *testEnv {
	t.Helper()
	mc := clock.NewMockClock(apiNow)

	resolver, err := cost.NewRateResolver(cost.Rates{ElectricityRate: 0.15, CoolingFactor: 1.0, CarbonRate: 0.5})
	require.NoError(t, err)

	history, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"), mc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	env := &testEnv{
		power: &fakePower{
			containers: sampleContainers(),
			nodes: &collector.NodeResult{
				Records:     []power.NodeRecord{{NodeName: "node-a", Components: power.Components{power.ComponentPlatform: 100}, Timestamp: apiNow}},
				CollectedAt: apiNow,
			},
		},
		collection: &fakeCollection{snapshots: map[power.Scope]*collector.Snapshot{}},
		history:    history,
	}
	env.router = NewRouter(Deps{
		Power:      env.power,
		Health:     fakeHealth{report: report},
		Rates:      resolver,
		Collection: env.collection,
		History:    history,
		Metrics:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		Clock:      mc,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	}
	return rec, payload
}

func healthyReport() health.Report {
	return health.Report{BackendReachable: true, DataPresent: true, Status: health.StatusHealthy, Timestamp: apiNow}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		report     health.Report
		wantStatus int
	}{
		{name: "healthy", report: healthyReport(), wantStatus: http.StatusOK},
		{
			name:       "unhealthy",
			report:     health.Report{BackendReachable: true, Status: health.StatusUnhealthy, Cause: "no kepler targets found"},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := newTestEnv(t, tt.report).do(t, http.MethodGet, "/health")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.report.Status, payload["status"])
			assert.Equal(t, tt.report.BackendReachable, payload["prometheus_connected"])
		})
	}
}

func TestCurrentPowerHandler(t *testing.T) {
	env := newTestEnv(t, healthyReport())
	env.power.containers.Window = timewindow.New(apiNow, 30*time.Minute)

	rec, payload := env.do(t, http.MethodGet, "/power/current?namespace=prod&workload=web&time_range=30m")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, collector.Options{Namespace: "prod", Workload: "web", Window: 30 * time.Minute}, env.power.gotOpts)
	assert.Equal(t, 2.0, payload["count"])
	assert.NotNil(t, payload["window"])

	containers := payload["containers"].([]any)
	first := containers[0].(map[string]any)
	assert.Equal(t, "app", first["container_name"])
	assert.Equal(t, 3_600_000.0, first["components"].(map[string]any)["total"])
}

func TestCurrentPowerRejectsBadTimeRange(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "malformed", token: "xyz"},
		{name: "overflowing", token: "9223372036854775807m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, healthyReport())
			rec, payload := env.do(t, http.MethodGet, "/power/current?time_range="+tt.token)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, payload["error"], tt.token)
			assert.Zero(t, env.power.gotOpts, "no pass runs for a rejected time range")
		})
	}
}

func TestContainersHandlerLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "default", query: "", want: 100},
		{name: "explicit", query: "?limit=5", want: 5},
		{name: "invalid falls back", query: "?limit=-3", want: 100},
		{name: "capped", query: "?limit=100000", want: maxContainerLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, healthyReport())
			rec, _ := env.do(t, http.MethodGet, "/power/containers"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, env.power.gotOpts.Limit)
			assert.Zero(t, env.power.gotOpts.Window)
		})
	}
}

func TestCollectionErrorMapsToBadGateway(t *testing.T) {
	env := newTestEnv(t, healthyReport())
	env.power.err = &collector.CollectionError{Scope: power.ScopeNode, Reason: "anchor query platform failed"}

	rec, payload := env.do(t, http.MethodGet, "/power/nodes")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, payload["error"], "anchor query platform failed")

	env.power.err = errors.New("boom")
	rec, _ = env.do(t, http.MethodGet, "/power/nodes")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNodesHandler(t *testing.T) {
	rec, payload := newTestEnv(t, healthyReport()).do(t, http.MethodGet, "/power/nodes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, payload["count"])
}

func TestWorkloadHandler(t *testing.T) {
	rec, payload := newTestEnv(t, healthyReport()).do(t, http.MethodGet, "/power/workload/web")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "web", payload["workload_name"])
	assert.Equal(t, 7_200_000.0, payload["total_power_joules"])
	assert.Equal(t, 2.0, payload["container_count"])
}

func TestCurrentCostHandler(t *testing.T) {
	env := newTestEnv(t, healthyReport())
	rec, payload := env.do(t, http.MethodGet, "/cost/current?namespace=prod")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Hour, env.power.gotOpts.Window)

	total := payload["total"].(map[string]any)
	assert.InDelta(t, 0.30, total["energy_cost_amount"], 1e-9)
	assert.InDelta(t, 1.0, total["carbon_mass_estimate"], 1e-9)

	perEntity := payload["per_entity"].([]any)
	require.Len(t, perEntity, 2)
	assert.Equal(t, "prod/web-1/app", perEntity[0].(map[string]any)["entity"])
	assert.Equal(t, 0.15, payload["rates"].(map[string]any)["electricity_rate"])
}

func TestWorkloadCostHandler(t *testing.T) {
	rec, payload := newTestEnv(t, healthyReport()).do(t, http.MethodGet, "/cost/workload/web")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "web", payload["workload_id"])
	breakdown := payload["cost_breakdown"].(map[string]any)
	assert.InDelta(t, 0.30, breakdown["total"].(map[string]any)["energy_cost_amount"], 1e-9)
}

func TestCollectLifecycle(t *testing.T) {
	env := newTestEnv(t, healthyReport())

	rec, _ := env.do(t, http.MethodPost, "/collect/stop")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, payload := env.do(t, http.MethodPost, "/collect/start")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5m0s", payload["interval"])
	assert.True(t, env.collection.running)

	rec, _ = env.do(t, http.MethodPost, "/collect/start")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, payload = env.do(t, http.MethodGet, "/collect/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["running"])

	rec, _ = env.do(t, http.MethodPost, "/collect/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.collection.running)
}

func TestSnapshotHandler(t *testing.T) {
	env := newTestEnv(t, healthyReport())

	rec, _ := env.do(t, http.MethodGet, "/snapshot/pods")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/snapshot/node")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.collection.snapshots[power.ScopeNode] = &collector.Snapshot{
		Scope:       power.ScopeNode,
		CollectedAt: apiNow,
		Nodes:       env.power.nodes.Records,
	}
	rec, payload := env.do(t, http.MethodGet, "/snapshot/node")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "node", payload["scope"])
	assert.Len(t, payload["nodes"], 1)
}

func TestHistoryHandlers(t *testing.T) {
	env := newTestEnv(t, healthyReport())
	records := sampleContainers().Records
	require.NoError(t, env.history.StoreContainers([]store.ContainerSample{
		{Record: records[0], Cost: cost.Result{EnergyCost: 0.15}, CollectedAt: apiNow.Add(-10 * time.Minute)},
		{Record: records[0], Cost: cost.Result{EnergyCost: 0.15}, CollectedAt: apiNow.Add(-3 * time.Hour)},
	}))
	require.NoError(t, env.history.StoreNodes([]store.NodeSample{
		{Record: env.power.nodes.Records[0], CollectedAt: apiNow.Add(-time.Minute)},
	}))

	rec, payload := env.do(t, http.MethodGet, "/history/prod/web-1/app")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prod/web-1/app", payload["entity"])
	assert.Equal(t, 1.0, payload["count"])

	rec, payload = env.do(t, http.MethodGet, "/history/prod/web-1/app?time_range=1d")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, payload["count"])

	rec, payload = env.do(t, http.MethodGet, "/history/nodes/node-a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, payload["count"])

	rec, _ = env.do(t, http.MethodGet, "/history/prod/web-1/app?time_range=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryDisabled(t *testing.T) {
	router := NewRouter(Deps{Collection: &fakeCollection{}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/prod/web-1/app", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsMounted(t *testing.T) {
	rec, _ := newTestEnv(t, healthyReport()).do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}
