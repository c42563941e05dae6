package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records all gateway metrics.
type Collector struct {
	// Workflow metrics
	workflowsTotal    *prometheus.CounterVec
	workflowDuration  *prometheus.HistogramVec
	stepsTotal        *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	stepRetriesTotal  *prometheus.CounterVec
	workflowsInFlight prometheus.Gauge

	// Provider metrics
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	// Cache metrics
	cacheHits          *prometheus.CounterVec
	cacheMisses        prometheus.Counter
	cacheEvictions     prometheus.Counter
	cacheBytesResident prometheus.Gauge

	// Output metrics
	deliveriesTotal *prometheus.CounterVec
	leasesActive    prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector registered against reg. A nil reg
// falls back to the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Workflow metrics
	c.workflowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"template", "status"},
	)

	c.workflowDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"template"},
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of workflow step executions",
		},
		[]string{"kind", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Workflow step execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.stepRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_retries_total",
			Help:      "Total number of workflow step retry attempts",
		},
		[]string{"kind"},
	)

	c.workflowsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_in_flight",
			Help:      "Number of workflow instances currently running",
		},
	)

	// Provider metrics
	c.providerCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Total number of provider adapter invocations",
		},
		[]string{"adapter", "capability", "status"},
	)

	c.providerCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider adapter call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"adapter", "capability"},
	)

	// Cache metrics
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	c.cacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	c.cacheEvictions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of fast tier evictions",
		},
	)

	c.cacheBytesResident = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes_resident",
			Help:      "Bytes currently resident in the fast cache tier",
		},
	)

	// Output metrics
	c.deliveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_deliveries_total",
			Help:      "Total number of artifact deliveries by mode",
		},
		[]string{"mode", "status"},
	)

	c.leasesActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_leases_active",
			Help:      "Number of live serving leases",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordWorkflow records a workflow reaching a terminal status.
func (c *Collector) RecordWorkflow(template, status string, duration time.Duration) {
	c.workflowsTotal.WithLabelValues(template, status).Inc()
	c.workflowDuration.WithLabelValues(template).Observe(duration.Seconds())
}

// RecordStep records one step execution attempt outcome.
func (c *Collector) RecordStep(kind, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(kind, status).Inc()
	c.stepDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordStepRetry records a step being rescheduled after a failure.
func (c *Collector) RecordStepRetry(kind string) {
	c.stepRetriesTotal.WithLabelValues(kind).Inc()
}

// WorkflowStarted increments the in-flight gauge.
func (c *Collector) WorkflowStarted() { c.workflowsInFlight.Inc() }

// WorkflowFinished decrements the in-flight gauge.
func (c *Collector) WorkflowFinished() { c.workflowsInFlight.Dec() }

// RecordProviderCall records one adapter invocation.
func (c *Collector) RecordProviderCall(adapter, capability, status string, duration time.Duration) {
	c.providerCallsTotal.WithLabelValues(adapter, capability, status).Inc()
	c.providerCallDuration.WithLabelValues(adapter, capability).Observe(duration.Seconds())
}

// RecordCacheHit records a hit in the named tier ("fast" or "slow").
func (c *Collector) RecordCacheHit(tier string) {
	c.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a full cache miss.
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordCacheEvictions adds to the eviction counter.
func (c *Collector) RecordCacheEvictions(n int) {
	if n > 0 {
		c.cacheEvictions.Add(float64(n))
	}
}

// SetCacheBytesResident updates the fast tier byte gauge.
func (c *Collector) SetCacheBytesResident(bytes int64) {
	c.cacheBytesResident.Set(float64(bytes))
}

// RecordDelivery records one output delivery.
func (c *Collector) RecordDelivery(mode, status string) {
	c.deliveriesTotal.WithLabelValues(mode, status).Inc()
}

// SetLeasesActive updates the live lease gauge.
func (c *Collector) SetLeasesActive(n int) {
	c.leasesActive.Set(float64(n))
}
