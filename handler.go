package esigate

import (
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/metrics"
	"github.com/FMHsieh/esigate/registry"
	"github.com/FMHsieh/esigate/resource"
	"github.com/FMHsieh/esigate/scheduler"
	"github.com/FMHsieh/esigate/session"
)

const unmappedInstance = "-"

var errQueueRejected = resource.NewErrorPage(http.StatusServiceUnavailable, "", nil)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}

	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}

	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}

	return w.code
}

// handler serves the inbound requests: it admits them through the
// queue, selects the instance from the mappings and proxies the request
// through its driver.
type handler struct {
	registry *registry.Registry
	sessions *session.Store
	queue    *scheduler.Queue
	metrics  metrics.Metrics
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}

	return "http"
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	instance := unmappedInstance
	defer func() {
		h.metrics.MeasureServe(instance, r.Method, sw.status(), start)
	}()

	done, err := h.queue.Wait()
	if err != nil {
		if !errors.Is(err, scheduler.ErrQueueClosed) {
			log.Debugf("request rejected by the admission queue: %v", err)
		}

		errQueueRejected.WriteTo(sw)
		return
	}

	defer done()

	snap := h.registry.Snapshot()
	d, err := snap.Select(requestScheme(r), r.Host, r.URL.Path)
	if err != nil {
		resource.AsErrorPage(err).WriteTo(sw)
		return
	}

	instance = d.Name()
	if ir := logging.RecorderFrom(r); ir != nil {
		ir.Name = instance
	}

	var user *session.UserContext
	if h.sessions != nil {
		user = h.sessions.Get(sw, r)
	}

	req := resource.NewRequest(r, user, snap.Provider)
	if err := d.Proxy(sw, req, r.URL.RequestURI()); err != nil {
		if sw.code != 0 {
			log.Errorf("failed to complete the response of %s: %v", r.URL.Path, err)
			return
		}

		ep := resource.AsErrorPage(err)
		if ep.StatusCode >= http.StatusInternalServerError {
			log.Errorf("failed to serve %s from %s: %v", r.URL.Path, instance, err)
		}

		ep.WriteTo(sw)
	}
}
