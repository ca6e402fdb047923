package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Metric keys of the CodaHale backend. The Prometheus backend uses the
// same dimensions as labels.
const (
	KeyFetch         = "backend.%s"
	KeyFetchHost     = "backendhost.%s.%s"
	KeyFetchErrors   = "errors.backend.%s.%d"
	KeyCache         = "cache.%s.%s"
	KeyRevalidation  = "revalidation.%s.%s"
	KeyRender        = "render.%s.%s"
	KeyServe         = "serve.%s.%s.%d"
	KeyServeCombined = "all.serve.%s.%d"
)

const (
	statsRefreshDuration = 5 * time.Second
	uniformReservoirSize = 1024
	expDecayReservoir    = 1028
	expDecayAlpha        = 0.015
)

var percentiles = []float64{0.5, 0.75, 0.95, 0.99, 0.999}

// CodaHale collects the metrics in a go-metrics registry and serves them
// as JSON, in the format of the DropWizard metrics servlet.
type CodaHale struct {
	reg        metrics.Registry
	newTimer   func() metrics.Timer
	newCounter func() metrics.Counter
	newGauge   func() metrics.GaugeFloat64
	options    Options
	handler    http.Handler
}

// NewCodaHale returns a new CodaHale backend of metrics.
func NewCodaHale(o Options) *CodaHale {
	sample := func() metrics.Sample { return metrics.NewUniformSample(uniformReservoirSize) }
	if o.UseExpDecaySample {
		sample = func() metrics.Sample { return metrics.NewExpDecaySample(expDecayReservoir, expDecayAlpha) }
	}

	c := &CodaHale{
		reg:     metrics.NewRegistry(),
		options: o,
		newTimer: func() metrics.Timer {
			return metrics.NewCustomTimer(metrics.NewHistogram(sample()), metrics.NewMeter())
		},
		newCounter: metrics.NewCounter,
		newGauge:   metrics.NewGaugeFloat64,
	}

	if o.EnableDebugGcMetrics {
		metrics.RegisterDebugGCStats(c.reg)
		go metrics.CaptureDebugGCStats(c.reg, statsRefreshDuration)
	}

	if o.EnableRuntimeMetrics {
		metrics.RegisterRuntimeMemStats(c.reg)
		go metrics.CaptureRuntimeMemStats(c.reg, statsRefreshDuration)
	}

	return c
}

// NewVoid returns a backend that drops every measurement.
func NewVoid() *CodaHale {
	return &CodaHale{
		reg:        metrics.NewRegistry(),
		newTimer:   func() metrics.Timer { return metrics.NilTimer{} },
		newCounter: func() metrics.Counter { return metrics.NilCounter{} },
		newGauge:   func() metrics.GaugeFloat64 { return metrics.NilGaugeFloat64{} },
	}
}

func getOrRegister[T any](reg metrics.Registry, key string, create func() T) T {
	return reg.GetOrRegister(key, create).(T)
}

func (c *CodaHale) getTimer(key string) metrics.Timer {
	return getOrRegister(c.reg, key, c.newTimer)
}

func (c *CodaHale) getCounter(key string) metrics.Counter {
	return getOrRegister(c.reg, key, c.newCounter)
}

func (c *CodaHale) measureSince(key string, start time.Time) {
	c.getTimer(key).UpdateSince(start)
}

func (c *CodaHale) incCounter(key string) {
	c.getCounter(key).Inc(1)
}

func (c *CodaHale) UpdateGauge(key string, v float64) {
	getOrRegister(c.reg, key, c.newGauge).Update(v)
}

func (c *CodaHale) MeasureFetch(instance, host string, start time.Time) {
	c.measureSince(fmt.Sprintf(KeyFetch, instance), start)
	if host != "" {
		c.measureSince(fmt.Sprintf(KeyFetchHost, instance, hostForKey(host)), start)
	}
}

func (c *CodaHale) IncFetchErrors(instance string, code int) {
	c.incCounter(fmt.Sprintf(KeyFetchErrors, instance, code))
}

func (c *CodaHale) IncCache(instance, result string) {
	c.incCounter(fmt.Sprintf(KeyCache, instance, strings.ToLower(result)))
}

func (c *CodaHale) IncRevalidation(instance, outcome string) {
	c.incCounter(fmt.Sprintf(KeyRevalidation, instance, outcome))
}

func (c *CodaHale) MeasureRender(instance, operation string, start time.Time) {
	c.measureSince(fmt.Sprintf(KeyRender, instance, operation), start)
}

func (c *CodaHale) MeasureServe(instance, method string, code int, start time.Time) {
	method = measuredMethod(method)
	c.measureSince(fmt.Sprintf(KeyServeCombined, method, code), start)
	if instance != "" {
		c.measureSince(fmt.Sprintf(KeyServe, instance, method, code), start)
	}
}

func (c *CodaHale) RegisterHandler(path string, mux *http.ServeMux) {
	if c.handler == nil {
		c.handler = c.CreateHandler(path)
	}

	mux.Handle(path, c.handler)
}

// CreateHandler returns a handler serving the metrics under path. A
// request to path/key returns only the metrics whose name starts with
// key.
func (c *CodaHale) CreateHandler(path string) http.Handler {
	return &codaHaleHandler{path: path, registry: c.reg, prefix: c.options.Prefix}
}

func (c *CodaHale) Close() {}

type codaHaleHandler struct {
	path     string
	prefix   string
	registry metrics.Registry
}

func (h *codaHaleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	_, key := path.Split(strings.TrimPrefix(r.URL.Path, h.path))
	selected := selectMetrics(h.registry, h.prefix, key)
	if len(selected) == 0 {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(selected)
}

// selectMetrics returns the metric matching key exactly, or else every
// metric whose name starts with key. The returned names carry the prefix.
func selectMetrics(reg metrics.Registry, prefix, key string) registrySnapshot {
	selected := make(registrySnapshot)
	name := strings.TrimPrefix(key, prefix)
	if m := reg.Get(name); m != nil {
		selected[key] = m
		return selected
	}

	reg.Each(func(n string, m interface{}) {
		if strings.HasPrefix(n, name) {
			selected[prefix+n] = m
		}
	})

	return selected
}

type registrySnapshot map[string]interface{}

type sampled interface {
	Count() int64
	Min() int64
	Max() int64
	Mean() float64
	StdDev() float64
	Percentiles([]float64) []float64
}

func sampleValues(s sampled) map[string]interface{} {
	ps := s.Percentiles(percentiles)
	return map[string]interface{}{
		"count":  s.Count(),
		"min":    s.Min(),
		"max":    s.Max(),
		"mean":   s.Mean(),
		"stddev": s.StdDev(),
		"median": ps[0],
		"75%":    ps[1],
		"95%":    ps[2],
		"99%":    ps[3],
		"99.9%":  ps[4],
	}
}

func familyValues(metric interface{}) (string, map[string]interface{}) {
	switch m := metric.(type) {
	case metrics.Gauge:
		return "gauges", map[string]interface{}{"value": m.Snapshot().Value()}
	case metrics.GaugeFloat64:
		return "gauges", map[string]interface{}{"value": m.Snapshot().Value()}
	case metrics.Counter:
		return "counters", map[string]interface{}{"count": m.Snapshot().Count()}
	case metrics.Histogram:
		return "histograms", sampleValues(m.Snapshot())
	case metrics.Timer:
		t := m.Snapshot()
		v := sampleValues(t)
		v["1m.rate"] = t.Rate1()
		v["5m.rate"] = t.Rate5()
		v["15m.rate"] = t.Rate15()
		v["mean.rate"] = t.RateMean()
		return "timers", v
	default:
		return "unknown", map[string]interface{}{"error": fmt.Sprintf("unknown metrics type %T", m)}
	}
}

// MarshalJSON groups the metrics by family: gauges, counters, histograms
// and timers.
func (s registrySnapshot) MarshalJSON() ([]byte, error) {
	data := make(map[string]map[string]interface{})
	for name, metric := range s {
		family, values := familyValues(metric)
		if data[family] == nil {
			data[family] = make(map[string]interface{})
		}

		data[family][name] = values
	}

	return json.Marshal(data)
}
