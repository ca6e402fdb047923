package fetch

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderPolicy(t *testing.T) {
	p := NewHeaderPolicy(HeaderOptions{
		DiscardRequest:  []string{"x-internal"},
		ForwardRequest:  []string{"authorization"},
		ForwardResponse: []string{"Date"},
	})

	for _, tt := range []struct {
		name     string
		request  bool
		response bool
	}{
		{"Accept-Language", true, true},
		{"authorization", true, true},
		{"Cookie", false, true},
		{"Host", false, true},
		{"X-Internal", false, true},
		{"Set-Cookie", true, false},
		{"Transfer-Encoding", false, false},
		{"date", true, true},
		{"Content-Length", false, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ForwardRequestHeader(tt.name); got != tt.request {
				t.Errorf("request header: expected %v, got %v", tt.request, got)
			}

			if got := p.ForwardResponseHeader(tt.name); got != tt.response {
				t.Errorf("response header: expected %v, got %v", tt.response, got)
			}
		})
	}
}

func TestCopyHeaders(t *testing.T) {
	p := NewHeaderPolicy(HeaderOptions{})

	src := http.Header{
		"Accept":        []string{"text/html"},
		"Connection":    []string{"keep-alive, X-Hop"},
		"X-Hop":         []string{"1"},
		"Cookie":        []string{"a=b"},
		"Authorization": []string{"Basic dGVzdDp0ZXN0"},
		"X-Custom":      []string{"1", "2"},
	}

	dst := http.Header{"X-Custom": []string{"0"}}
	p.CopyRequestHeaders(dst, src)

	expected := http.Header{
		"Accept":   []string{"text/html"},
		"X-Custom": []string{"0", "1", "2"},
	}

	if d := cmp.Diff(expected, dst); d != "" {
		t.Errorf("unexpected request headers: %s", d)
	}

	src = http.Header{
		"Content-Type":     []string{"text/html"},
		"Set-Cookie":       []string{"a=b"},
		"Date":             []string{"Mon, 01 Jan 2024 12:00:00 GMT"},
		"Www-Authenticate": []string{"Basic"},
		"Etag":             []string{`"1"`},
	}

	dst = make(http.Header)
	p.CopyResponseHeaders(dst, src)

	expected = http.Header{
		"Content-Type": []string{"text/html"},
		"Etag":         []string{`"1"`},
	}

	if d := cmp.Diff(expected, dst); d != "" {
		t.Errorf("unexpected response headers: %s", d)
	}
}
