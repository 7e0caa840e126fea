package prometheus

import (
	"strconv"
	"time"

	applifecycle "github.com/turtacn/karin-compliance/internal/application/lifecycle"
	"github.com/turtacn/karin-compliance/internal/application/risk"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
)

var (
	DefaultHTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultScanDurationBuckets = []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300}
	DefaultAnalysisBuckets     = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
)

// EngineMetrics records lifecycle, risk and HTTP measurements.
type EngineMetrics struct {
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec

	TransitionsTotal        CounterVec
	ExtensionRequestsTotal  CounterVec
	ExtensionDecisionsTotal CounterVec
	AlertsTotal             CounterVec
	DispatchFailuresTotal   CounterVec
	ScanDuration            HistogramVec
	ScanCases               GaugeVec
	ScanFailures            CounterVec

	AnalysesTotal         CounterVec
	AnalysisDuration      HistogramVec
	SignalFallbacksTotal  CounterVec
	DependencyHealthState GaugeVec
}

var (
	_ applifecycle.Metrics = (*EngineMetrics)(nil)
	_ risk.Metrics         = (*EngineMetrics)(nil)
)

// NewEngineMetrics registers every family on collector.
func NewEngineMetrics(c MetricsCollector) *EngineMetrics {
	return &EngineMetrics{
		HTTPRequestsTotal:   c.RegisterCounter("http_requests_total", "HTTP requests by route and status", "method", "route", "status_code"),
		HTTPRequestDuration: c.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "route"),

		TransitionsTotal:        c.RegisterCounter("case_transitions_total", "Stage transitions applied", "from", "to"),
		ExtensionRequestsTotal:  c.RegisterCounter("extension_requests_total", "Extension requests filed", "stage"),
		ExtensionDecisionsTotal: c.RegisterCounter("extension_decisions_total", "Extension requests decided", "status"),
		AlertsTotal:             c.RegisterCounter("deadline_alerts_total", "Deadline alerts emitted", "level"),
		DispatchFailuresTotal:   c.RegisterCounter("notification_dispatch_failures_total", "Per-recipient notification failures"),
		ScanDuration:            c.RegisterHistogram("alert_scan_duration_seconds", "Alert scan duration", DefaultScanDurationBuckets),
		ScanCases:               c.RegisterGauge("alert_scan_cases", "Cases evaluated by the last scan"),
		ScanFailures:            c.RegisterCounter("alert_scan_case_failures_total", "Cases that failed evaluation during a scan"),

		AnalysesTotal:         c.RegisterCounter("risk_analyses_total", "Risk analyses by unified level", "level", "degraded"),
		AnalysisDuration:      c.RegisterHistogram("risk_analysis_duration_seconds", "Risk analysis duration", DefaultAnalysisBuckets),
		SignalFallbacksTotal:  c.RegisterCounter("ai_signal_fallbacks_total", "Analyses that fell back to compliance-only", "reason"),
		DependencyHealthState: c.RegisterGauge("dependency_up", "Dependency health (1=up, 0=down)", "dependency"),
	}
}

func (m *EngineMetrics) RecordTransition(from, to domain.ProcessStage) {
	m.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *EngineMetrics) RecordExtensionRequest(stage domain.ProcessStage) {
	m.ExtensionRequestsTotal.WithLabelValues(string(stage)).Inc()
}

func (m *EngineMetrics) RecordExtensionDecision(status domain.ExtensionStatus) {
	m.ExtensionDecisionsTotal.WithLabelValues(string(status)).Inc()
}

func (m *EngineMetrics) RecordAlert(level domain.AlertLevel) {
	m.AlertsTotal.WithLabelValues(string(level)).Inc()
}

func (m *EngineMetrics) RecordDispatchFailure() {
	m.DispatchFailuresTotal.WithLabelValues().Inc()
}

func (m *EngineMetrics) ObserveScan(d time.Duration, cases, failures int) {
	m.ScanDuration.WithLabelValues().Observe(d.Seconds())
	m.ScanCases.WithLabelValues().Set(float64(cases))
	if failures > 0 {
		m.ScanFailures.WithLabelValues().Add(float64(failures))
	}
}

func (m *EngineMetrics) ObserveAnalysis(d time.Duration, level compliance.RiskLevel, degraded bool) {
	m.AnalysesTotal.WithLabelValues(string(level), strconv.FormatBool(degraded)).Inc()
	m.AnalysisDuration.WithLabelValues().Observe(d.Seconds())
}

func (m *EngineMetrics) RecordSignalFallback(reason string) {
	m.SignalFallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records one served request under its route pattern.
func (m *EngineMetrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// SetDependencyUp records the outcome of a readiness probe.
func (m *EngineMetrics) SetDependencyUp(name string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.DependencyHealthState.WithLabelValues(name).Set(v)
}
