package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind is the format of the collected metrics.
type Kind int

const (
	UnkownKind     Kind = 0
	CodaHaleKind   Kind = 1
	PrometheusKind Kind = 2
	AllKind             = CodaHaleKind | PrometheusKind
)

func (k Kind) String() string {
	switch k {
	case CodaHaleKind:
		return "codahale"
	case PrometheusKind:
		return "prometheus"
	case AllKind:
		return "all"
	default:
		return "unknown"
	}
}

// ParseMetricsKind parses a metrics flavour name.
func ParseMetricsKind(t string) Kind {
	switch strings.ToLower(t) {
	case "codahale":
		return CodaHaleKind
	case "prometheus":
		return PrometheusKind
	case "all":
		return AllKind
	default:
		return UnkownKind
	}
}

// Cache results reported by IncCache.
const (
	CacheHit       = "HIT"
	CacheMiss      = "MISS"
	CacheValidated = "VALIDATED"
	CacheStale     = "STALE"
)

// Revalidation outcomes reported by IncRevalidation.
const (
	RevalidationDone    = "done"
	RevalidationFailed  = "failed"
	RevalidationDropped = "dropped"
)

// Metrics is the interface used by the gateway components to report
// measurements.
type Metrics interface {
	// MeasureFetch measures the duration of a backend call.
	MeasureFetch(instance, host string, start time.Time)

	// IncFetchErrors counts the fetches that ended in an error page,
	// synthesized ones included.
	IncFetchErrors(instance string, code int)

	// IncCache counts the cache results.
	IncCache(instance, result string)

	// IncRevalidation counts the background revalidations by outcome.
	IncRevalidation(instance, outcome string)

	// MeasureRender measures a driver operation: render, proxy,
	// renderblock, rendertemplate, renderxml or renderxpath.
	MeasureRender(instance, operation string, start time.Time)

	// MeasureServe measures an inbound request.
	MeasureServe(instance, method string, code int, start time.Time)

	UpdateGauge(key string, value float64)
	RegisterHandler(path string, mux *http.ServeMux)
	Close()
}

// Options for initializing metrics collection.
type Options struct {
	// the metric formats
	Format Kind

	// Common prefix for the keys of the different
	// collected metrics.
	Prefix string

	// If set, garbage collector metrics are collected
	// in addition to the http traffic metrics.
	EnableDebugGcMetrics bool

	// If set, Go runtime metrics are collected in
	// addition to the http traffic metrics.
	EnableRuntimeMetrics bool

	// If set, the Coda Hale timers use an exponentially decaying
	// sample instead of a uniform one.
	UseExpDecaySample bool

	// Buckets of the Prometheus histograms. Defaults to
	// prometheus.DefBuckets.
	HistogramBuckets []float64

	// When set, the Prometheus metrics are registered here instead of
	// a new registry.
	PrometheusRegistry *prometheus.Registry
}

// NewMetrics creates the metrics collection for the configured
// formats. When no format is configured, the measurements are dropped.
func NewMetrics(o Options) Metrics {
	switch o.Format {
	case AllKind:
		return NewAll(o)
	case PrometheusKind:
		return NewPrometheus(o)
	case CodaHaleKind:
		return NewCodaHale(o)
	default:
		return NewVoid()
	}
}

func hostForKey(h string) string {
	h = strings.ReplaceAll(h, ".", "_")
	h = strings.ReplaceAll(h, ":", "__")
	return h
}

func measuredMethod(m string) string {
	switch m {
	case "OPTIONS",
		"GET",
		"HEAD",
		"POST",
		"PUT",
		"PATCH",
		"DELETE",
		"TRACE",
		"CONNECT":
		return m
	default:
		return "_unknownmethod_"
	}
}

func statusCode(code int) string { return fmt.Sprint(code) }
