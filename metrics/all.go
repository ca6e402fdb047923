package metrics

import (
	"net/http"
	"strings"
	"time"
)

// All reports every measurement to both the Coda Hale and the
// Prometheus backends.
type All struct {
	prometheus        *Prometheus
	codaHale          *CodaHale
	prometheusHandler http.Handler
	codaHaleHandler   http.Handler
}

func NewAll(o Options) *All {
	return &All{
		prometheus: NewPrometheus(o),
		codaHale:   NewCodaHale(o),
	}
}

func (a *All) MeasureFetch(instance, host string, start time.Time) {
	a.prometheus.MeasureFetch(instance, host, start)
	a.codaHale.MeasureFetch(instance, host, start)
}

func (a *All) IncFetchErrors(instance string, code int) {
	a.prometheus.IncFetchErrors(instance, code)
	a.codaHale.IncFetchErrors(instance, code)
}

func (a *All) IncCache(instance, result string) {
	a.prometheus.IncCache(instance, result)
	a.codaHale.IncCache(instance, result)
}

func (a *All) IncRevalidation(instance, outcome string) {
	a.prometheus.IncRevalidation(instance, outcome)
	a.codaHale.IncRevalidation(instance, outcome)
}

func (a *All) MeasureRender(instance, operation string, start time.Time) {
	a.prometheus.MeasureRender(instance, operation, start)
	a.codaHale.MeasureRender(instance, operation, start)
}

func (a *All) MeasureServe(instance, method string, code int, start time.Time) {
	a.prometheus.MeasureServe(instance, method, code, start)
	a.codaHale.MeasureServe(instance, method, code, start)
}

func (a *All) UpdateGauge(key string, value float64) {
	a.prometheus.UpdateGauge(key, value)
	a.codaHale.UpdateGauge(key, value)
}

// RegisterHandler serves the Prometheus format when the request
// accepts text/plain, and the Coda Hale JSON otherwise.
func (a *All) RegisterHandler(path string, mux *http.ServeMux) {
	a.prometheusHandler = a.prometheus.CreateHandler()
	a.codaHaleHandler = a.codaHale.CreateHandler(path)
	mux.Handle(path, a)
}

func (a *All) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		a.prometheusHandler.ServeHTTP(w, r)
		return
	}

	a.codaHaleHandler.ServeHTTP(w, r)
}

func (a *All) Close() {
	a.prometheus.Close()
	a.codaHale.Close()
}
