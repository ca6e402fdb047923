package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "esigate"

// Prometheus implements the prometheus metrics backend. The metric
// dimensions are labels: instance, host, result, operation, method and
// code.
type Prometheus struct {
	fetch        *prometheus.HistogramVec
	fetchErrors  *prometheus.CounterVec
	cache        *prometheus.CounterVec
	revalidation *prometheus.CounterVec
	render       *prometheus.HistogramVec
	serve        *prometheus.HistogramVec
	gauges       *prometheus.GaugeVec

	registry *prometheus.Registry
	handler  http.Handler
}

type promBuilder struct {
	namespace string
	buckets   []float64
}

func (b promBuilder) histogram(subsystem, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: b.namespace,
		Subsystem: subsystem,
		Name:      "duration_seconds",
		Help:      help,
		Buckets:   b.buckets,
	}, labels)
}

func (b promBuilder) counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: b.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewPrometheus returns a new Prometheus metric backend. The namespace of
// the metrics is the prefix without the trailing dot, esigate by default.
func NewPrometheus(opts Options) *Prometheus {
	b := promBuilder{namespace: promNamespace, buckets: opts.HistogramBuckets}
	if opts.Prefix != "" {
		b.namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	if len(b.buckets) == 0 {
		b.buckets = prometheus.DefBuckets
	}

	p := &Prometheus{
		fetch:        b.histogram("backend", "Duration in seconds of a backend fetch.", "instance", "host"),
		fetchErrors:  b.counter("backend", "error_total", "The total of fetches ending with an error page.", "instance", "code"),
		cache:        b.counter("cache", "result_total", "The total of cache lookups by result.", "instance", "result"),
		revalidation: b.counter("cache", "revalidation_total", "The total of background revalidations by outcome.", "instance", "outcome"),
		render:       b.histogram("render", "Duration in seconds of a driver operation.", "instance", "operation"),
		serve:        b.histogram("serve", "Duration in seconds of serving an inbound request.", "instance", "method", "code"),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: b.namespace,
			Subsystem: "custom",
			Name:      "gauges",
			Help:      "Gauges of the gateway, e.g. cache size or admission queue.",
		}, []string{"key"}),
		registry: opts.PrometheusRegistry,
	}

	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	p.registry.MustRegister(p.fetch, p.fetchErrors, p.cache, p.revalidation, p.render, p.serve, p.gauges)
	if opts.EnableRuntimeMetrics {
		p.registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}

	return p
}

func seconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func (p *Prometheus) CreateHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) RegisterHandler(path string, mux *http.ServeMux) {
	if p.handler == nil {
		p.handler = p.CreateHandler()
	}

	mux.Handle(path, p.handler)
}

func (p *Prometheus) MeasureFetch(instance, host string, start time.Time) {
	p.fetch.WithLabelValues(instance, host).Observe(seconds(start))
}

func (p *Prometheus) IncFetchErrors(instance string, code int) {
	p.fetchErrors.WithLabelValues(instance, statusCode(code)).Inc()
}

func (p *Prometheus) IncCache(instance, result string) {
	p.cache.WithLabelValues(instance, result).Inc()
}

func (p *Prometheus) IncRevalidation(instance, outcome string) {
	p.revalidation.WithLabelValues(instance, outcome).Inc()
}

func (p *Prometheus) MeasureRender(instance, operation string, start time.Time) {
	p.render.WithLabelValues(instance, operation).Observe(seconds(start))
}

func (p *Prometheus) MeasureServe(instance, method string, code int, start time.Time) {
	p.serve.WithLabelValues(instance, measuredMethod(method), statusCode(code)).Observe(seconds(start))
}

func (p *Prometheus) UpdateGauge(key string, v float64) {
	p.gauges.WithLabelValues(key).Set(v)
}

func (p *Prometheus) Close() {}
