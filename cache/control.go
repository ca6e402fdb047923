package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// directives are the parsed Cache-Control directives, lowercase names
type directives map[string]string

func parseCacheControl(h http.Header) directives {
	d := make(directives)
	for _, v := range h.Values("Cache-Control") {
		for p := range strings.SplitSeq(v, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}

			name, value, _ := strings.Cut(p, "=")
			d[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(value), `"`)
		}
	}

	return d
}

func (d directives) has(name string) bool {
	_, ok := d[name]
	return ok
}

// seconds returns a delta-seconds directive
func (d directives) seconds(name string) (time.Duration, bool) {
	v, ok := d[name]
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}

	return time.Duration(n) * time.Second, true
}

func headerTime(h http.Header, name string) (time.Time, bool) {
	v := h.Get(name)
	if v == "" {
		return time.Time{}, false
	}

	t, err := http.ParseTime(v)
	return t, err == nil
}

// heuristicStatus lists the statuses cacheable by default, RFC 7231
// section 6.1.
var heuristicStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusNoContent:            true,
	http.StatusPartialContent:       true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusPermanentRedirect:    true,
	http.StatusNotFound:             true,
	http.StatusMethodNotAllowed:     true,
	http.StatusGone:                 true,
	http.StatusRequestURITooLong:    true,
	http.StatusNotImplemented:       true,
}

// freshness calculates the freshness lifetime and the age of a stored
// response, RFC 7234 section 4.2.
type freshness struct {
	heuristic            bool
	heuristicCoefficient float64
	heuristicDefault     time.Duration
}

// explicit returns the explicit expiration of the headers
func explicit(h http.Header, d directives) (time.Duration, bool) {
	if s, ok := d.seconds("s-maxage"); ok {
		return s, true
	}

	if s, ok := d.seconds("max-age"); ok {
		return s, true
	}

	if h.Get("Expires") == "" {
		return 0, false
	}

	expires, ok := headerTime(h, "Expires")
	if !ok {
		// invalid dates are in the past
		return 0, true
	}

	date, ok := headerTime(h, "Date")
	if !ok {
		return 0, true
	}

	if lt := expires.Sub(date); lt > 0 {
		return lt, true
	}

	return 0, true
}

func (f freshness) lifetime(e *Entry) time.Duration {
	if e.TTL > 0 {
		return e.TTL
	}

	d := parseCacheControl(e.Header)
	if d.has("no-cache") {
		return 0
	}

	if lt, ok := explicit(e.Header, d); ok {
		return lt
	}

	code, _ := e.status()
	if !f.heuristic || !heuristicStatus[code] {
		return 0
	}

	if lm, ok := headerTime(e.Header, "Last-Modified"); ok {
		date, ok := headerTime(e.Header, "Date")
		if !ok {
			date = e.ResponseTime
		}

		if date.After(lm) {
			return time.Duration(f.heuristicCoefficient * float64(date.Sub(lm)))
		}
	}

	return f.heuristicDefault
}

// age returns the current age of the stored response
func age(e *Entry, now time.Time) time.Duration {
	var apparent time.Duration
	if date, ok := headerTime(e.Header, "Date"); ok {
		apparent = max(0, e.ResponseTime.Sub(date))
	}

	var ageValue time.Duration
	if n, err := strconv.ParseInt(strings.TrimSpace(e.Header.Get("Age")), 10, 64); err == nil && n > 0 {
		ageValue = time.Duration(n) * time.Second
	}

	corrected := ageValue + e.ResponseTime.Sub(e.RequestTime)
	return max(apparent, corrected) + max(0, now.Sub(e.ResponseTime))
}

// staleWindow returns the stale-while-revalidate or stale-if-error window
// of the response, or the configured default.
func staleWindow(d directives, name string, def time.Duration) time.Duration {
	if d.has("must-revalidate") || d.has("proxy-revalidate") {
		return 0
	}

	if s, ok := d.seconds(name); ok {
		return s
	}

	return def
}

func hasValidator(h http.Header) bool {
	return h.Get("ETag") != "" || h.Get("Last-Modified") != ""
}

// storable tells whether a response can be stored by a shared cache,
// RFC 7234 section 3.
func (f freshness) storable(rsp *http.Response, forced bool) bool {
	if rsp.StatusCode == http.StatusNotModified {
		return false
	}

	if forced {
		return true
	}

	d := parseCacheControl(rsp.Header)
	if d.has("no-store") || d.has("private") {
		return false
	}

	for _, v := range varyNames(rsp.Header) {
		if v == "*" {
			return false
		}
	}

	if _, ok := explicit(rsp.Header, d); ok {
		return true
	}

	if d.has("public") || d.has("no-cache") {
		return true
	}

	return f.heuristic && heuristicStatus[rsp.StatusCode]
}
