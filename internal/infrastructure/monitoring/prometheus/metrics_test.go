package prometheus

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
)

func TestEngineMetrics_Lifecycle(t *testing.T) {
	c := newTestCollector(t)
	m := NewEngineMetrics(c)

	m.RecordTransition(domain.StageInvestigation, domain.StageClosed)
	m.RecordExtensionRequest(domain.StageInvestigation)
	m.RecordExtensionDecision(domain.ExtensionApproved)
	m.RecordAlert(domain.AlertOverdue)
	m.RecordAlert(domain.AlertOverdue)
	m.RecordDispatchFailure()
	m.ObserveScan(2*time.Second, 40, 3)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_case_transitions_total{from="investigation",to="closed"} 1`)
	assert.Contains(t, out, `test_unit_extension_requests_total{stage="investigation"} 1`)
	assert.Contains(t, out, `test_unit_extension_decisions_total{status="approved"} 1`)
	assert.Contains(t, out, `test_unit_deadline_alerts_total{level="overdue"} 2`)
	assert.Contains(t, out, "test_unit_notification_dispatch_failures_total 1")
	assert.Contains(t, out, "test_unit_alert_scan_cases 40")
	assert.Contains(t, out, "test_unit_alert_scan_case_failures_total 3")
	assert.Contains(t, out, "test_unit_alert_scan_duration_seconds_sum 2")
}

func TestEngineMetrics_Risk(t *testing.T) {
	c := newTestCollector(t)
	m := NewEngineMetrics(c)

	m.ObserveAnalysis(250*time.Millisecond, compliance.RiskIntolerable, true)
	m.RecordSignalFallback("timeout")

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_risk_analyses_total{degraded="true",level="intolerable"} 1`)
	assert.Contains(t, out, "test_unit_risk_analysis_duration_seconds_count 1")
	assert.Contains(t, out, `test_unit_ai_signal_fallbacks_total{reason="timeout"} 1`)
}

func TestEngineMetrics_HTTPAndHealth(t *testing.T) {
	c := newTestCollector(t)
	m := NewEngineMetrics(c)

	m.RecordHTTPRequest(http.MethodPost, "/api/v1/cases", http.StatusCreated, 30*time.Millisecond)
	m.SetDependencyUp("postgres", true)
	m.SetDependencyUp("redis", false)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_http_requests_total{method="POST",route="/api/v1/cases",status_code="201"} 1`)
	assert.Contains(t, out, `test_unit_dependency_up{dependency="postgres"} 1`)
	assert.Contains(t, out, `test_unit_dependency_up{dependency="redis"} 0`)
}
