package prometheus

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
)

func newTestCollector(t *testing.T) MetricsCollector {
	t.Helper()
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", Subsystem: "unit"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func scrapeMetrics(t *testing.T, c MetricsCollector) string {
	t.Helper()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewMetricsCollector_EmptyNamespace(t *testing.T) {
	_, err := NewMetricsCollector(CollectorConfig{}, nil)
	assert.Error(t, err)
}

func TestNewMetricsCollector_RuntimeCollectors(t *testing.T) {
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "karin", EnableGoMetrics: true}, nil)
	require.NoError(t, err)
	assert.Contains(t, scrapeMetrics(t, c), "go_goroutines")
}

func TestRegisterCounter(t *testing.T) {
	c := newTestCollector(t)
	vec := c.RegisterCounter("events_total", "events", "type")
	vec.WithLabelValues("a").Inc()
	vec.WithLabelValues("a").Add(2)
	assert.Contains(t, scrapeMetrics(t, c), `test_unit_events_total{type="a"} 3`)
}

func TestRegisterTwiceReturnsSameFamily(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("dup_total", "dup", "k").WithLabelValues("x").Inc()
	c.RegisterCounter("dup_total", "dup", "k").WithLabelValues("x").Inc()
	assert.Contains(t, scrapeMetrics(t, c), `test_unit_dup_total{k="x"} 2`)
}

func TestRegisterTypeMismatchIsNoop(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("mixed", "m")
	g := c.RegisterGauge("mixed", "m")
	assert.NotPanics(t, func() { g.WithLabelValues().Set(5) })
	assert.NotContains(t, scrapeMetrics(t, c), "test_unit_mixed 5")
}

func TestRegisterGaugeAndHistogram(t *testing.T) {
	c := newTestCollector(t)
	g := c.RegisterGauge("inflight", "in flight")
	g.WithLabelValues().Inc()
	g.WithLabelValues().Inc()
	g.WithLabelValues().Dec()

	h := c.RegisterHistogram("latency_seconds", "latency", nil, "op")
	h.WithLabelValues("get").Observe(0.2)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, "test_unit_inflight 1")
	assert.Contains(t, out, `test_unit_latency_seconds_count{op="get"} 1`)
}

func TestConcurrentRegistration(t *testing.T) {
	c := newTestCollector(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RegisterCounter("race_total", "race").WithLabelValues().Inc()
		}()
	}
	wg.Wait()
	assert.Contains(t, scrapeMetrics(t, c), "test_unit_race_total 16")
}

func TestTimer(t *testing.T) {
	c := newTestCollector(t)
	h := c.RegisterHistogram("timer_seconds", "timer", []float64{1})
	timer := NewTimer(h.WithLabelValues())
	time.Sleep(time.Millisecond)
	timer.ObserveDuration()
	assert.Contains(t, scrapeMetrics(t, c), "test_unit_timer_seconds_count 1")

	assert.NotPanics(t, func() { (&Timer{}).ObserveDuration() })
}
