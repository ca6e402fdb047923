package net

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestForwardedHeaders(t *testing.T) {
	for _, ti := range []struct {
		name       string
		remoteAddr string
		host       string
		header     http.Header
		tls        bool
		forwarded  ForwardedHeaders
		expected   http.Header
	}{{
		name:       "no change when disabled",
		remoteAddr: "1.2.3.4:56",
		header:     http.Header{"X-Forwarded-For": []string{"4.3.2.1"}},
		forwarded:  ForwardedHeaders{},
		expected:   http.Header{},
	}, {
		name:       "set xff",
		remoteAddr: "1.2.3.4:56",
		header:     http.Header{},
		forwarded:  ForwardedHeaders{For: true},
		expected:   http.Header{"X-Forwarded-For": []string{"1.2.3.4"}},
	}, {
		name:       "append xff",
		remoteAddr: "1.2.3.4:56",
		header:     http.Header{"X-Forwarded-For": []string{"4.3.2.1"}},
		forwarded:  ForwardedHeaders{For: true},
		expected:   http.Header{"X-Forwarded-For": []string{"4.3.2.1, 1.2.3.4"}},
	}, {
		name:       "keep inbound chain without remote",
		remoteAddr: "",
		header:     http.Header{"X-Forwarded-For": []string{"4.3.2.1"}},
		forwarded:  ForwardedHeaders{For: true},
		expected:   http.Header{"X-Forwarded-For": []string{"4.3.2.1"}},
	}, {
		name:       "set host",
		remoteAddr: "1.2.3.4:56",
		host:       "www.example.org",
		header:     http.Header{},
		forwarded:  ForwardedHeaders{Host: true},
		expected:   http.Header{"X-Forwarded-Host": []string{"www.example.org"}},
	}, {
		name:      "proto http",
		header:    http.Header{},
		forwarded: ForwardedHeaders{Proto: true},
		expected:  http.Header{"X-Forwarded-Proto": []string{"http"}},
	}, {
		name:      "proto https",
		header:    http.Header{},
		tls:       true,
		forwarded: ForwardedHeaders{Proto: true},
		expected:  http.Header{"X-Forwarded-Proto": []string{"https"}},
	}, {
		name:      "proto from upstream proxy",
		header:    http.Header{"X-Forwarded-Proto": []string{"https"}},
		forwarded: ForwardedHeaders{Proto: true},
		expected:  http.Header{"X-Forwarded-Proto": []string{"https"}},
	}} {
		t.Run(ti.name, func(t *testing.T) {
			in := httptest.NewRequest("GET", "/", nil)
			in.RemoteAddr = ti.remoteAddr
			in.Host = ti.host
			in.Header = ti.header
			if ti.tls {
				in.TLS = &tls.ConnectionState{}
			}

			out := httptest.NewRequest("GET", "http://backend/", nil)
			out.Header = make(http.Header)
			ti.forwarded.Set(out, in)

			if !cmp.Equal(ti.expected, out.Header) {
				t.Errorf("unexpected headers: %s", cmp.Diff(ti.expected, out.Header))
			}
		})
	}
}
