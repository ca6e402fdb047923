package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	logDate    = "[10/Oct/2000:13:55:36 -0700]"
	logRequest = `"GET /apache_pb.gif HTTP/1.1" 418 2326 "" "" 42 127.0.0.1 shop`
)

func testAccessEntry() *AccessEntry {
	r, _ := http.NewRequest("GET", "http://frank@127.0.0.1", nil)
	r.RequestURI = "/apache_pb.gif"
	r.RemoteAddr = "127.0.0.1"
	return &AccessEntry{
		Request:      r,
		ResponseSize: 2326,
		StatusCode:   http.StatusTeapot,
		RequestTime:  time.Date(2000, 10, 10, 13, 55, 36, 0, time.FixedZone("test", -7*3600)),
		Duration:     42 * time.Millisecond,
		Instance:     "shop",
	}
}

func logEntry(entry *AccessEntry, additional map[string]interface{}, jsonFormat bool) string {
	var buf bytes.Buffer
	Init(Options{AccessLogOutput: &buf, AccessLogJSONEnabled: jsonFormat})
	LogAccess(entry, additional)
	return strings.TrimSuffix(buf.String(), "\n")
}

func TestAccessLog(t *testing.T) {
	for _, tt := range []struct {
		title  string
		modify func(*AccessEntry) *AccessEntry
		expect string
	}{{
		title:  "full",
		expect: "127.0.0.1 - - " + logDate + " " + logRequest,
	}, {
		title:  "nil entry",
		modify: func(*AccessEntry) *AccessEntry { return nil },
		expect: "",
	}, {
		title: "missing request",
		modify: func(e *AccessEntry) *AccessEntry {
			e.Request = nil
			e.Instance = ""
			return e
		},
		expect: `- - - ` + logDate + ` "  " 418 2326 "" "" 42  -`,
	}, {
		title: "forwarded for",
		modify: func(e *AccessEntry) *AccessEntry {
			e.Request.Header.Set("X-Forwarded-For", "192.168.3.3")
			return e
		},
		expect: "192.168.3.3 - - " + logDate + " " + logRequest,
	}, {
		title: "forwarded for with port",
		modify: func(e *AccessEntry) *AccessEntry {
			e.Request.Header.Set("X-Forwarded-For", "192.168.3.3:6969")
			return e
		},
		expect: "192.168.3.3 - - " + logDate + " " + logRequest,
	}, {
		title: "forwarded for multiple hops",
		modify: func(e *AccessEntry) *AccessEntry {
			e.Request.Header.Set("X-Forwarded-For", "192.168.3.3, 10.0.0.1")
			return e
		},
		expect: "192.168.3.3 - - " + logDate + " " + logRequest,
	}, {
		title: "remote address with port",
		modify: func(e *AccessEntry) *AccessEntry {
			e.Request.RemoteAddr = "192.168.3.3:6969"
			return e
		},
		expect: "192.168.3.3 - - " + logDate + " " + logRequest,
	}, {
		title: "missing remote address",
		modify: func(e *AccessEntry) *AccessEntry {
			e.Request.RemoteAddr = ""
			return e
		},
		expect: "- - - " + logDate + " " + logRequest,
	}} {
		t.Run(tt.title, func(t *testing.T) {
			e := testAccessEntry()
			if tt.modify != nil {
				e = tt.modify(e)
			}

			assert.Equal(t, tt.expect, logEntry(e, nil, false))
		})
	}
}

func TestAccessLogJSON(t *testing.T) {
	out := logEntry(testAccessEntry(), map[string]interface{}{"cache": "HIT"}, true)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "shop", m["instance"])
	assert.Equal(t, "HIT", m["cache"])
	assert.Equal(t, float64(http.StatusTeapot), m["status"])
	assert.Equal(t, "127.0.0.1", m["host"])
}

func TestDisabledAccessLog(t *testing.T) {
	Init(Options{AccessLogDisabled: true})
	LogAccess(testAccessEntry(), nil)
	assert.Nil(t, accessLog)
}
