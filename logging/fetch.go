package logging

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// FetchEntry describes one call to a backend.
type FetchEntry struct {
	Instance   string
	Request    *http.Request
	StatusCode int
	Status     string
	Duration   time.Duration
	Cache      string
	Err        error
}

// String formats the entry as
// "scheme://host - METHOD uri PROTO -> status (n ms)".
func (e *FetchEntry) String() string {
	target := "-"
	requestLine := "-"
	if e.Request != nil && e.Request.URL != nil {
		target = e.Request.URL.Scheme + "://" + e.Request.URL.Host
		requestLine = fmt.Sprintf("%s %s %s", e.Request.Method, e.Request.URL.RequestURI(), e.Request.Proto)
	}

	result := e.Status
	if e.Err != nil {
		result = e.Err.Error()
	} else if result == "" {
		result = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}

	return fmt.Sprintf("%s - %s -> %s (%d ms)", target, requestLine, result, e.Duration/time.Millisecond)
}

// LogFetch writes the entry to the application log: on warning level
// when the fetch failed or returned an error status, otherwise on info
// level.
func LogFetch(e *FetchEntry) {
	if e == nil {
		return
	}

	entry := log.WithFields(log.Fields{
		"instance": e.Instance,
		"status":   e.StatusCode,
		"duration": int64(e.Duration / time.Millisecond),
	})

	if e.Cache != "" {
		entry = entry.WithField("cache", e.Cache)
	}

	if e.Err != nil || e.StatusCode >= http.StatusBadRequest {
		entry.Warn(e.String())
		return
	}

	entry.Info(e.String())
}
