package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ReportOutcomeCacheHit     = "cache_hit"
	ReportOutcomeGenerated    = "generated"
	ReportOutcomeDeduplicated = "deduplicated"
	ReportOutcomeFailed       = "failed"
)

const (
	ReportErrorReasonTimeout          = "timeout"
	ReportErrorReasonEngine           = "engine"
	ReportErrorReasonCacheConsistency = "cache_consistency"
	ReportErrorReasonDisabled         = "disabled"
	ReportErrorReasonDB               = "db"
	ReportErrorReasonUnknown          = "unknown"
)

// ReportMetrics captures orchestrator health: cache efficiency, engine latency and failures.
type ReportMetrics struct {
	requests       *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	engineErrors   *prometheus.CounterVec
	inFlight       prometheus.Gauge
	lockWait       prometheus.Histogram
}

var (
	reportMetricsOnce sync.Once
	reportMetrics     *ReportMetrics
)

// Reports returns the singleton report metrics registry.
func Reports() *ReportMetrics {
	return ReportsWithConfig(Config{})
}

// ReportsWithConfig returns the singleton report metrics registry using config labels.
func ReportsWithConfig(cfg Config) *ReportMetrics {
	reportMetricsOnce.Do(func() {
		reportMetrics = newReportMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reportMetrics
}

// ResetReportMetricsForTest resets the report metrics singleton for tests.
func ResetReportMetricsForTest() {
	reportMetricsOnce = sync.Once{}
	reportMetrics = nil
}

func newReportMetrics(registerer prometheus.Registerer, cfg Config) *ReportMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "destiny"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "destiny_report_requests_total",
		Help:        "Per-system report requests by outcome.",
		ConstLabels: constLabels,
	}, []string{"system", "outcome"})
	engineDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "destiny_report_engine_duration_seconds",
		Help:        "Engine generation latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	}, []string{"system"})
	engineErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "destiny_report_engine_errors_total",
		Help:        "Engine generation failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"system", "reason"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "destiny_report_inflight_jobs",
		Help:        "Generation jobs currently holding a mutual-exclusion token.",
		ConstLabels: constLabels,
	})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "destiny_report_lock_wait_seconds",
		Help:        "Time spent waiting on a distributed generation lock.",
		Buckets:     []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(requests, engineDuration, engineErrors, inFlight, lockWait)

	return &ReportMetrics{
		requests:       requests,
		engineDuration: engineDuration,
		engineErrors:   engineErrors,
		inFlight:       inFlight,
		lockWait:       lockWait,
	}
}

func (m *ReportMetrics) IncRequest(system, outcome string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(system, outcome).Inc()
}

func (m *ReportMetrics) ObserveEngineDuration(system string, duration time.Duration) {
	if m == nil || m.engineDuration == nil {
		return
	}
	m.engineDuration.WithLabelValues(system).Observe(duration.Seconds())
}

func (m *ReportMetrics) IncEngineError(system, reason string) {
	if m == nil || m.engineErrors == nil {
		return
	}
	if reason == "" {
		reason = ReportErrorReasonUnknown
	}
	m.engineErrors.WithLabelValues(system, reason).Inc()
}

func (m *ReportMetrics) JobStarted() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *ReportMetrics) JobFinished() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *ReportMetrics) ObserveLockWait(duration time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.lockWait.Observe(duration.Seconds())
}
