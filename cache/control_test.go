package cache

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func header(kv ...string) http.Header {
	h := make(http.Header)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}

	return h
}

func TestLifetime(t *testing.T) {
	date := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	heuristic := freshness{heuristic: true, heuristicCoefficient: 0.1, heuristicDefault: time.Minute}

	for _, tt := range []struct {
		title     string
		freshness freshness
		entry     *Entry
		expected  time.Duration
	}{{
		title:    "max-age",
		entry:    &Entry{StatusCode: 200, Header: header("Cache-Control", "public, max-age=30")},
		expected: 30 * time.Second,
	}, {
		title:    "s-maxage wins",
		entry:    &Entry{StatusCode: 200, Header: header("Cache-Control", "max-age=30, s-maxage=90")},
		expected: 90 * time.Second,
	}, {
		title: "expires",
		entry: &Entry{StatusCode: 200, Header: header(
			"Date", date.Format(http.TimeFormat),
			"Expires", date.Add(time.Hour).Format(http.TimeFormat),
		)},
		expected: time.Hour,
	}, {
		title:    "invalid expires",
		entry:    &Entry{StatusCode: 200, Header: header("Expires", "0")},
		expected: 0,
	}, {
		title:    "no-cache",
		entry:    &Entry{StatusCode: 200, Header: header("Cache-Control", "no-cache, max-age=30")},
		expected: 0,
	}, {
		title:    "forced",
		entry:    &Entry{StatusCode: 200, Header: header("Cache-Control", "no-cache"), TTL: time.Minute},
		expected: time.Minute,
	}, {
		title:    "no heuristic",
		entry:    &Entry{StatusCode: 200, Header: header("Last-Modified", date.Add(-time.Hour).Format(http.TimeFormat))},
		expected: 0,
	}, {
		title:     "heuristic last modified",
		freshness: heuristic,
		entry: &Entry{StatusCode: 200, Header: header(
			"Date", date.Format(http.TimeFormat),
			"Last-Modified", date.Add(-10*time.Hour).Format(http.TimeFormat),
		)},
		expected: time.Hour,
	}, {
		title:     "heuristic default",
		freshness: heuristic,
		entry:     &Entry{StatusCode: 200, Header: header()},
		expected:  time.Minute,
	}, {
		title:     "heuristic not applicable",
		freshness: heuristic,
		entry:     &Entry{StatusCode: 500, Header: header()},
		expected:  0,
	}, {
		title:     "heuristic on disguised status",
		freshness: heuristic,
		entry:     &Entry{StatusCode: 200, Header: header(StatusCodeHeader, "503")},
		expected:  0,
	}} {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.freshness.lifetime(tt.entry))
		})
	}
}

func TestAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, tt := range []struct {
		title    string
		entry    *Entry
		expected time.Duration
	}{{
		title:    "resident time",
		entry:    &Entry{Header: header(), RequestTime: now.Add(-10 * time.Second), ResponseTime: now.Add(-10 * time.Second)},
		expected: 10 * time.Second,
	}, {
		title:    "response delay",
		entry:    &Entry{Header: header(), RequestTime: now.Add(-12 * time.Second), ResponseTime: now.Add(-10 * time.Second)},
		expected: 12 * time.Second,
	}, {
		title:    "age header",
		entry:    &Entry{Header: header("Age", "100"), RequestTime: now, ResponseTime: now},
		expected: 100 * time.Second,
	}, {
		title: "apparent age",
		entry: &Entry{
			Header:       header("Date", now.Add(-time.Minute).Format(http.TimeFormat)),
			RequestTime:  now,
			ResponseTime: now,
		},
		expected: time.Minute,
	}} {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.expected, age(tt.entry, now))
		})
	}
}

func TestStorable(t *testing.T) {
	for _, tt := range []struct {
		title     string
		code      int
		header    http.Header
		forced    bool
		heuristic bool
		expected  bool
	}{
		{"max-age", 200, header("Cache-Control", "max-age=10"), false, false, true},
		{"public", 200, header("Cache-Control", "public"), false, false, true},
		{"no headers", 200, header(), false, false, false},
		{"heuristic", 200, header(), false, true, true},
		{"heuristic error", 502, header(), false, true, false},
		{"no-store", 200, header("Cache-Control", "no-store, max-age=10"), false, false, false},
		{"private", 200, header("Cache-Control", "private, max-age=10"), false, false, false},
		{"vary all", 200, header("Cache-Control", "max-age=10", "Vary", "Accept, *"), false, false, false},
		{"forced", 500, header("Cache-Control", "no-store"), true, false, true},
		{"not modified", 304, header("Cache-Control", "max-age=10"), true, false, false},
	} {
		t.Run(tt.title, func(t *testing.T) {
			f := freshness{heuristic: tt.heuristic, heuristicCoefficient: 0.1}
			rsp := &http.Response{StatusCode: tt.code, Header: tt.header}
			assert.Equal(t, tt.expected, f.storable(rsp, tt.forced))
		})
	}
}

func TestStaleWindow(t *testing.T) {
	d := parseCacheControl(header("Cache-Control", "max-age=1, stale-while-revalidate=30"))
	assert.Equal(t, 30*time.Second, staleWindow(d, "stale-while-revalidate", time.Minute))
	assert.Equal(t, time.Minute, staleWindow(d, "stale-if-error", time.Minute))

	d = parseCacheControl(header("Cache-Control", "max-age=1, stale-if-error=30, proxy-revalidate"))
	assert.Zero(t, staleWindow(d, "stale-if-error", time.Minute))
}

func TestParseCacheControl(t *testing.T) {
	d := parseCacheControl(header("Cache-Control", `Max-Age="10", no-cache`, "Cache-Control", "private=\"Set-Cookie\""))
	s, ok := d.seconds("max-age")
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, s)
	assert.True(t, d.has("no-cache"))
	assert.Equal(t, "Set-Cookie", d["private"])

	_, ok = parseCacheControl(header("Cache-Control", "max-age=-1")).seconds("max-age")
	assert.False(t, ok)
}
