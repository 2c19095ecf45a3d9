// Package metrics provides Prometheus metrics instrumentation for the operator.
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter names reported by Snapshot.
const (
	CounterResourcesCreated = "resources_created"
	CounterResourcesDeleted = "resources_deleted"
	CounterResourcesUpdated = "resources_updated"
	CounterAPIErrors        = "api_errors"
)

// Snapshot is a flat view of the lifecycle counters.
type Snapshot map[string]float64

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
type Collector interface {
	// Lifecycle counters
	RecordResourceCreated(ctx context.Context)
	RecordResourceDeleted(ctx context.Context)
	RecordResourceUpdated(ctx context.Context)

	// RecordRetriesExhausted is called once per operation whose retries ran out.
	RecordRetriesExhausted(ctx context.Context, operation, errorType string)

	// Pangolin API metrics
	RecordAPICall(ctx context.Context, method, status string, duration time.Duration)

	Snapshot() Snapshot
}

// counters holds the lifecycle counters shared by concurrent reconciliations.
type counters struct {
	created   atomic.Uint64
	deleted   atomic.Uint64
	updated   atomic.Uint64
	apiErrors atomic.Uint64
}

func (c *counters) snapshot() Snapshot {
	return Snapshot{
		CounterResourcesCreated: float64(c.created.Load()),
		CounterResourcesDeleted: float64(c.deleted.Load()),
		CounterResourcesUpdated: float64(c.updated.Load()),
		CounterAPIErrors:        float64(c.apiErrors.Load()),
	}
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	counters counters

	// Lifecycle metrics, read from counters on scrape
	createdTotal   prometheus.CounterFunc
	deletedTotal   prometheus.CounterFunc
	updatedTotal   prometheus.CounterFunc
	apiErrorsTotal prometheus.CounterFunc

	// Pangolin API metrics
	apiDuration        *prometheus.HistogramVec
	apiCallsTotal      *prometheus.CounterVec
	apiCallErrorsTotal *prometheus.CounterVec
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initLifecycleMetrics()
	c.initAPIMetrics()
	c.register(reg)

	return c
}

// RecordResourceCreated increments resources_created.
func (c *prometheusCollector) RecordResourceCreated(_ context.Context) {
	c.counters.created.Add(1)
}

// RecordResourceDeleted increments resources_deleted.
func (c *prometheusCollector) RecordResourceDeleted(_ context.Context) {
	c.counters.deleted.Add(1)
}

// RecordResourceUpdated increments resources_updated.
func (c *prometheusCollector) RecordResourceUpdated(_ context.Context) {
	c.counters.updated.Add(1)
}

// RecordRetriesExhausted increments api_errors and the per-operation error series.
func (c *prometheusCollector) RecordRetriesExhausted(_ context.Context, operation, errorType string) {
	c.counters.apiErrors.Add(1)
	c.apiCallErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordAPICall records a single Pangolin API request.
func (c *prometheusCollector) RecordAPICall(_ context.Context, method, status string, duration time.Duration) {
	c.apiDuration.WithLabelValues(method).Observe(duration.Seconds())
	c.apiCallsTotal.WithLabelValues(method, status).Inc()
}

// Snapshot returns the current lifecycle counter values.
func (c *prometheusCollector) Snapshot() Snapshot {
	return c.counters.snapshot()
}

func (c *prometheusCollector) initLifecycleMetrics() {
	c.createdTotal = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "pangolin_resources_created_total",
			Help: "Total Pangolin resources created",
		},
		func() float64 { return float64(c.counters.created.Load()) },
	)
	c.deletedTotal = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "pangolin_resources_deleted_total",
			Help: "Total cleanup passes that deleted at least one Pangolin resource",
		},
		func() float64 { return float64(c.counters.deleted.Load()) },
	)
	c.updatedTotal = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "pangolin_resources_updated_total",
			Help: "Total PangolinIngress updates handled",
		},
		func() float64 { return float64(c.counters.updated.Load()) },
	)
	c.apiErrorsTotal = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "pangolin_api_errors_total",
			Help: "Total Pangolin API operations that failed after all retries",
		},
		func() float64 { return float64(c.counters.apiErrors.Load()) },
	)
}

func (c *prometheusCollector) initAPIMetrics() {
	c.apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pangolin_api_call_duration_seconds",
			Help:    "Duration of Pangolin API calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)
	c.apiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pangolin_api_calls_total",
			Help: "Total Pangolin API calls",
		},
		[]string{"method", "status"},
	)
	c.apiCallErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pangolin_api_call_errors_total",
			Help: "Pangolin API operations that exhausted retries, by error type",
		},
		[]string{"method", "error_type"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.createdTotal,
		c.deletedTotal,
		c.updatedTotal,
		c.apiErrorsTotal,
		c.apiDuration,
		c.apiCallsTotal,
		c.apiCallErrorsTotal,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordResourceCreated is a no-op.
func (c *NoopCollector) RecordResourceCreated(_ context.Context) {}

// RecordResourceDeleted is a no-op.
func (c *NoopCollector) RecordResourceDeleted(_ context.Context) {}

// RecordResourceUpdated is a no-op.
func (c *NoopCollector) RecordResourceUpdated(_ context.Context) {}

// RecordRetriesExhausted is a no-op.
func (c *NoopCollector) RecordRetriesExhausted(_ context.Context, _, _ string) {}

// RecordAPICall is a no-op.
func (c *NoopCollector) RecordAPICall(_ context.Context, _, _ string, _ time.Duration) {}

// Snapshot always reports zero counters.
func (c *NoopCollector) Snapshot() Snapshot {
	return (&counters{}).snapshot()
}
