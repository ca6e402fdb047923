package logging

import (
	"context"
	"net/http"
	"time"
)

type loggingWriter struct {
	writer http.ResponseWriter
	code   int
	bytes  int64
}

func (lw *loggingWriter) Write(data []byte) (count int, err error) {
	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	count, err = lw.writer.Write(data)
	lw.bytes += int64(count)
	return
}

func (lw *loggingWriter) WriteHeader(code int) {
	lw.writer.WriteHeader(code)
	if code == 0 {
		code = http.StatusOK
	}
	lw.code = code
}

func (lw *loggingWriter) Header() http.Header {
	return lw.writer.Header()
}

func (lw *loggingWriter) Flush() {
	if f, ok := lw.writer.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (lw *loggingWriter) Unwrap() http.ResponseWriter {
	return lw.writer
}

type instanceKey struct{}

// InstanceRecorder is stored in the request context by the access log
// handler. The inbound handler sets the name of the selected instance on
// it.
type InstanceRecorder struct {
	Name string
}

// RecorderFrom returns the instance recorder of the request, or nil when
// the request did not pass through the access log handler.
func RecorderFrom(r *http.Request) *InstanceRecorder {
	ir, _ := r.Context().Value(instanceKey{}).(*InstanceRecorder)
	return ir
}

// NewHandler wraps a handler with access logging.
func NewHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ir := &InstanceRecorder{}
		r = r.WithContext(context.WithValue(r.Context(), instanceKey{}, ir))

		lw := &loggingWriter{writer: w}
		next.ServeHTTP(lw, r)

		code := lw.code
		if code == 0 {
			code = http.StatusOK
		}

		LogAccess(&AccessEntry{
			Request:      r,
			StatusCode:   code,
			ResponseSize: lw.bytes,
			Duration:     time.Since(start),
			RequestTime:  start,
			Instance:     ir.Name,
		}, nil)
	})
}
