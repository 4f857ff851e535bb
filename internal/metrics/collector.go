package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the kernel's Prometheus metrics. A nil *Collector is
// valid and records nothing, so callers never need nil checks at call sites.
type Collector struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	activeRuns   prometheus.Gauge

	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	tokensUsed         prometheus.Counter

	delegationsTotal *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the kernel metrics under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_started_total",
		Help:      "Total number of workflow runs started",
	})
	c.runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Total number of workflow runs reaching a terminal status",
	}, []string{"status"})
	c.activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Number of runs currently in a non-terminal status",
	})

	c.invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invocations_total",
		Help:      "Total number of agent invocations by recorded status",
	}, []string{"status"})
	c.invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "invocation_duration_seconds",
		Help:      "Agent invocation latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
	c.tokensUsed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_used_total",
		Help:      "Total tokens consumed by agent invocations",
	})

	c.delegationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delegations_total",
		Help:      "Total delegation requests by acceptance",
	}, []string{"accepted"})

	c.httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	c.httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	return c
}

// RunStarted records a new run.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.runsStarted.Inc()
	c.activeRuns.Inc()
}

// RunFinished records a run reaching a terminal status.
func (c *Collector) RunFinished(status string) {
	if c == nil {
		return
	}
	c.runsFinished.WithLabelValues(status).Inc()
	c.activeRuns.Dec()
}

// InvocationObserved records one classified agent invocation.
func (c *Collector) InvocationObserved(status string, latency time.Duration, tokens int) {
	if c == nil {
		return
	}
	c.invocationsTotal.WithLabelValues(status).Inc()
	c.invocationDuration.WithLabelValues(status).Observe(latency.Seconds())
	c.tokensUsed.Add(float64(tokens))
}

// DelegationObserved records one delegation request.
func (c *Collector) DelegationObserved(accepted bool) {
	if c == nil {
		return
	}
	c.delegationsTotal.WithLabelValues(strconv.FormatBool(accepted)).Inc()
}

// HTTPRequestObserved records one served HTTP request.
func (c *Collector) HTTPRequestObserved(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
