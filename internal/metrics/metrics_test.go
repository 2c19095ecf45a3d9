package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorInterface(t *testing.T) {
	t.Parallel()

	// Verify that prometheusCollector implements Collector interface
	var _ Collector = (*prometheusCollector)(nil)
	var _ Collector = (*NoopCollector)(nil)
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)

	require.NotNil(t, collector)
	assert.IsType(t, &prometheusCollector{}, collector)
}

func TestNoopCollector(t *testing.T) {
	t.Parallel()

	collector := NewNoopCollector()
	require.NotNil(t, collector)

	ctx := context.Background()

	// All methods should not panic
	assert.NotPanics(t, func() {
		collector.RecordResourceCreated(ctx)
		collector.RecordResourceDeleted(ctx)
		collector.RecordResourceUpdated(ctx)
		collector.RecordRetriesExhausted(ctx, "create", "server_error")
		collector.RecordAPICall(ctx, "create", "success", time.Second)
	})

	assert.Equal(t, Snapshot{
		CounterResourcesCreated: 0,
		CounterResourcesDeleted: 0,
		CounterResourcesUpdated: 0,
		CounterAPIErrors:        0,
	}, collector.Snapshot())
}

func TestMetricsRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	// Trigger all metrics to be collected at least once
	collector.RecordResourceCreated(ctx)
	collector.RecordResourceDeleted(ctx)
	collector.RecordResourceUpdated(ctx)
	collector.RecordRetriesExhausted(ctx, "create", "test")
	collector.RecordAPICall(ctx, "list", "success", time.Second)

	// Verify metrics are registered
	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	expectedMetrics := []string{
		"pangolin_resources_created_total",
		"pangolin_resources_deleted_total",
		"pangolin_resources_updated_total",
		"pangolin_api_errors_total",
		"pangolin_api_call_duration_seconds",
		"pangolin_api_calls_total",
		"pangolin_api_call_errors_total",
	}

	registeredMetrics := make(map[string]bool)
	for _, mf := range metricFamilies {
		registeredMetrics[mf.GetName()] = true
	}

	for _, expected := range expectedMetrics {
		assert.True(t, registeredMetrics[expected], "metric %s should be registered", expected)
	}
}

func TestLifecycleCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordResourceCreated(ctx)
	collector.RecordResourceCreated(ctx)
	collector.RecordResourceDeleted(ctx)
	collector.RecordResourceUpdated(ctx)
	collector.RecordResourceUpdated(ctx)
	collector.RecordResourceUpdated(ctx)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.createdTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.deletedTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.updatedTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.apiErrorsTotal))

	snapshot := collector.Snapshot()
	assert.Equal(t, float64(2), snapshot[CounterResourcesCreated])
	assert.Equal(t, float64(1), snapshot[CounterResourcesDeleted])
	assert.Equal(t, float64(3), snapshot[CounterResourcesUpdated])
	assert.Equal(t, float64(0), snapshot[CounterAPIErrors])
}

func TestRecordRetriesExhausted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordRetriesExhausted(ctx, "create", "server_error")
	collector.RecordRetriesExhausted(ctx, "create", "server_error")
	collector.RecordRetriesExhausted(ctx, "list", "network")

	assert.Equal(t, float64(3), testutil.ToFloat64(collector.apiErrorsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.apiCallErrorsTotal.WithLabelValues("create", "server_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.apiCallErrorsTotal.WithLabelValues("list", "network")))
}

func TestRecordAPICall(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordAPICall(ctx, "list", "success", time.Second)

	// Check histogram and counter
	durationCount := testutil.CollectAndCount(collector.apiDuration)
	callsCount := testutil.ToFloat64(collector.apiCallsTotal.WithLabelValues("list", "success"))

	assert.Equal(t, 1, durationCount)
	assert.Equal(t, float64(1), callsCount)
}

func TestCountersConcurrentIncrements(t *testing.T) {
	t.Parallel()

	collector := NewCollector(prometheus.NewRegistry())
	ctx := context.Background()

	const workers = 50

	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			collector.RecordResourceCreated(ctx)
			collector.RecordResourceUpdated(ctx)
		}()
	}

	wg.Wait()

	snapshot := collector.Snapshot()
	assert.Equal(t, float64(workers), snapshot[CounterResourcesCreated])
	assert.Equal(t, float64(workers), snapshot[CounterResourcesUpdated])
}

func TestSnapshotHandler(t *testing.T) {
	t.Parallel()

	collector := NewCollector(prometheus.NewRegistry())
	collector.RecordResourceCreated(context.Background())

	rec := httptest.NewRecorder()
	SnapshotHandler(collector).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/counters", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["resources_created"])
	assert.Equal(t, float64(0), body["api_errors"])
}
