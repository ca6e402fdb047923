// Package metricstest provides a Metrics implementation recording the
// measurements in memory, under the keys of the CodaHale backend.
package metricstest

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/FMHsieh/esigate/metrics"
)

// MockMetrics records the measurements. It is safe for concurrent use.
type MockMetrics struct {
	// Prefix of the recorded keys.
	Prefix string

	// Now, when set, is used as the end of the measured durations.
	Now time.Time

	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	timers   map[string][]time.Duration
}

var _ metrics.Metrics = (*MockMetrics)(nil)

func (m *MockMetrics) lock() func() {
	m.mu.Lock()
	if m.counters == nil {
		m.counters = make(map[string]int64)
		m.gauges = make(map[string]float64)
		m.timers = make(map[string][]time.Duration)
	}

	return m.mu.Unlock
}

func (m *MockMetrics) measure(start time.Time, format string, args ...any) {
	end := m.Now
	if end.IsZero() {
		end = time.Now()
	}

	key := m.Prefix + fmt.Sprintf(format, args...)
	defer m.lock()()
	m.timers[key] = append(m.timers[key], end.Sub(start))
}

func (m *MockMetrics) count(format string, args ...any) {
	key := m.Prefix + fmt.Sprintf(format, args...)
	defer m.lock()()
	m.counters[key]++
}

func (m *MockMetrics) MeasureFetch(instance, _ string, start time.Time) {
	m.measure(start, metrics.KeyFetch, instance)
}

func (m *MockMetrics) IncFetchErrors(instance string, code int) {
	m.count(metrics.KeyFetchErrors, instance, code)
}

func (m *MockMetrics) IncCache(instance, result string) {
	m.count(metrics.KeyCache, instance, strings.ToLower(result))
}

func (m *MockMetrics) IncRevalidation(instance, outcome string) {
	m.count(metrics.KeyRevalidation, instance, outcome)
}

func (m *MockMetrics) MeasureRender(instance, operation string, start time.Time) {
	m.measure(start, metrics.KeyRender, instance, operation)
}

func (m *MockMetrics) MeasureServe(instance, method string, code int, start time.Time) {
	m.measure(start, metrics.KeyServe, instance, method, code)
}

func (m *MockMetrics) UpdateGauge(key string, value float64) {
	defer m.lock()()
	m.gauges[key] = value
}

func (*MockMetrics) RegisterHandler(string, *http.ServeMux) {}

func (*MockMetrics) Close() {}

// Counter returns the count recorded under key.
func (m *MockMetrics) Counter(key string) (int64, bool) {
	defer m.lock()()
	v, ok := m.counters[key]
	return v, ok
}

// Gauge returns the last value set under key.
func (m *MockMetrics) Gauge(key string) (float64, bool) {
	defer m.lock()()
	v, ok := m.gauges[key]
	return v, ok
}

// Timer returns the durations measured under key.
func (m *MockMetrics) Timer(key string) ([]time.Duration, bool) {
	defer m.lock()()
	d, ok := m.timers[key]
	return append([]time.Duration(nil), d...), ok
}
