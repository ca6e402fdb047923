package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/FMHsieh/esigate/circuit"
	"github.com/FMHsieh/esigate/loadbalancer"
	"github.com/FMHsieh/esigate/metrics/metricstest"
	"github.com/FMHsieh/esigate/net"
	"github.com/FMHsieh/esigate/resource"
	"github.com/FMHsieh/esigate/session"
)

type testBackend struct {
	*httptest.Server
	hits atomic.Int32

	mu   sync.Mutex
	last *http.Request
	body string
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

func (b *testBackend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.hits.Add(1)
	b.mu.Lock()
	b.last = r.Clone(context.Background())
	b.body = string(body)
	b.mu.Unlock()

	switch r.URL.Path {
	case "/notfound":
		w.Header().Set("X-Error", "1")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "missing")
	case "/slow":
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}

		io.WriteString(w, "slow")
	case "/login":
		http.SetCookie(w, &http.Cookie{Name: "backend_session", Value: "1", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/"})
		io.WriteString(w, "logged in")
	case "/gzip":
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(content))
		gz.Close()
	default:
		io.WriteString(w, "hello")
	}
}

func (b *testBackend) lastRequest() (*http.Request, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.body
}

func newTestClient(t *testing.T, baseURL string, o Options) *Client {
	t.Helper()
	s, err := loadbalancer.New(loadbalancer.Single, []string{baseURL}, "")
	require.NoError(t, err)

	o.Instance = "provider"
	o.Strategy = s
	c, err := NewClient(o)
	require.NoError(t, err)
	return c
}

func newFetchContext(in *http.Request, relURL string) *resource.Context {
	r := resource.NewRequest(in, session.NewUserContext("id"), nil)
	return resource.NewContext(r, nil, relURL)
}

func inbound() *http.Request {
	return httptest.NewRequest("GET", "http://www.example.org/page", nil)
}

func fetchBody(t *testing.T, c *Client, rc *resource.Context) string {
	t.Helper()
	rsp, err := c.Fetch(rc)
	require.NoError(t, err)
	defer rsp.Body.Close()

	b, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}

func TestResolveURL(t *testing.T) {
	for _, tt := range []struct {
		base, rel, expected string
	}{
		{"http://backend/", "/page", "http://backend/page"},
		{"http://backend", "page", "http://backend/page"},
		{"http://backend/app/", "page?a=1", "http://backend/app/page?a=1"},
		{"http://backend/", "http://other/page", "http://other/page"},
		{"http://backend/", "", "http://backend/"},
	} {
		assert.Equal(t, tt.expected, ResolveURL(tt.base, tt.rel), tt.rel)
	}
}

func TestFetch(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b.URL+"/", Options{})

	in := inbound()
	in.Header.Set("X-Custom", "1")
	in.Header.Set("Authorization", "Basic dGVzdDp0ZXN0")
	in.Header.Set("Cookie", "tracking=1")

	rc := newFetchContext(in, "/echo?a=1")
	rc.Params = url.Values{"b": []string{"x y"}}
	assert.Equal(t, "hello", fetchBody(t, c, rc))
	assert.Equal(t, b.URL+"/", rc.BaseURL)

	req, _ := b.lastRequest()
	assert.Equal(t, "/echo", req.URL.Path)
	assert.Equal(t, "a=1&b=x+y", req.URL.RawQuery)
	assert.Equal(t, acceptEncoding, req.Header.Get("Accept-Encoding"))
	assert.Equal(t, "1", req.Header.Get("X-Custom"))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("Cookie"))
	assert.Equal(t, strings.TrimPrefix(b.URL, "http://"), req.Host)
}

func TestFetchURIEncoding(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b.URL, Options{URIEncoding: charmap.ISO8859_1})

	rc := newFetchContext(inbound(), "/echo")
	rc.Params = url.Values{"q": []string{"é"}}
	fetchBody(t, c, rc)

	req, _ := b.lastRequest()
	assert.Equal(t, "q=%E9", req.URL.RawQuery)
}

func TestFetchErrorPage(t *testing.T) {
	b := newTestBackend(t)
	m := &metricstest.MockMetrics{}
	c := newTestClient(t, b.URL, Options{Metrics: m})

	_, err := c.Fetch(newFetchContext(inbound(), "/notfound"))
	ep := resource.AsErrorPage(err)
	require.NotNil(t, ep)
	assert.Equal(t, http.StatusNotFound, ep.StatusCode)
	assert.Equal(t, "Not Found", ep.Reason)
	assert.Equal(t, "missing", ep.Body)
	assert.Equal(t, "1", ep.Header.Get("X-Error"))

	n, _ := m.Counter("errors.backend.provider.404")
	assert.Equal(t, int64(1), n)

	// higher error status
	c = newTestClient(t, b.URL, Options{ErrorStatus: http.StatusInternalServerError})
	rsp, err := c.Fetch(newFetchContext(inbound(), "/notfound"))
	require.NoError(t, err)
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
}

func TestFetchTransportErrors(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		b := newTestBackend(t)
		b.Close()

		c := newTestClient(t, b.URL, Options{})
		_, err := c.Fetch(newFetchContext(inbound(), "/page"))
		assert.Equal(t, http.StatusBadGateway, resource.StatusCode(err))
	})

	t.Run("maxwait", func(t *testing.T) {
		b := newTestBackend(t)
		c := newTestClient(t, b.URL, Options{})

		rc := newFetchContext(inbound(), "/slow")
		rc.MaxWait = 20 * time.Millisecond
		_, err := c.Fetch(rc)
		assert.Equal(t, http.StatusGatewayTimeout, resource.StatusCode(err))
	})

	t.Run("client canceled", func(t *testing.T) {
		b := newTestBackend(t)
		c := newTestClient(t, b.URL, Options{})

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		rc := newFetchContext(inbound().WithContext(ctx), "/slow")
		_, err := c.Fetch(rc)
		assert.Equal(t, StatusClientClosedRequest, resource.StatusCode(err))
	})
}

func TestFetchBreaker(t *testing.T) {
	b := newTestBackend(t)
	b.Close()

	c := newTestClient(t, b.URL, Options{Breakers: circuit.NewRegistry(circuit.BreakerSettings{Failures: 2})})

	for range 2 {
		_, err := c.Fetch(newFetchContext(inbound(), "/page"))
		assert.Equal(t, http.StatusBadGateway, resource.StatusCode(err))
	}

	_, err := c.Fetch(newFetchContext(inbound(), "/page"))
	assert.Equal(t, http.StatusServiceUnavailable, resource.StatusCode(err))
	assert.True(t, errors.Is(err, errBreakerOpen))
}

func TestFetchCookies(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b.URL, Options{Cookies: NewCookiePolicy([]string{"JSESSIONID"}, nil)})

	in := inbound()
	in.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: "client"})
	r := resource.NewRequest(in, session.NewUserContext("id"), nil)

	assert.Equal(t, "logged in", fetchBody(t, c, resource.NewContext(r, nil, "/login")))
	fetchBody(t, c, resource.NewContext(r, nil, "/echo"))

	req, _ := b.lastRequest()
	cookies := make(map[string]string)
	for _, ck := range req.Cookies() {
		cookies[ck.Name] = ck.Value
	}

	assert.Equal(t, map[string]string{"JSESSIONID": "client", "backend_session": "1"}, cookies)
}

func TestProxyCookies(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b.URL, Options{Cookies: NewCookiePolicy([]string{"JSESSIONID"}, nil)})

	rc := newFetchContext(inbound(), "/login")
	rc.Proxy = true
	rsp, err := c.Fetch(rc)
	require.NoError(t, err)
	defer rsp.Body.Close()

	h := make(http.Header)
	c.CopyResponseHeaders(h, rsp)
	assert.Equal(t, []string{"JSESSIONID=abc; Path=/"}, h.Values("Set-Cookie"))
	assert.Empty(t, h.Get(forwardedCookiesKey))

	var names []string
	for _, ck := range rc.Request.User.Jar().Cookies(rsp.Request.URL) {
		names = append(names, ck.Name)
	}

	assert.Equal(t, []string{"backend_session"}, names)
}

func TestProxyBody(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b.URL, Options{})

	in := httptest.NewRequest("POST", "http://www.example.org/form", strings.NewReader("name=value"))
	in.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rc := newFetchContext(in, "/form")
	rc.Method = http.MethodPost
	rc.Proxy = true
	fetchBody(t, c, rc)

	req, body := b.lastRequest()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	assert.Equal(t, "name=value", body)
}

func TestPreserveHost(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b.URL, Options{PreserveHost: true, ForwardedHeaders: &net.AllForwardedHeaders})

	in := httptest.NewRequest("GET", "http://www.example.org:80/page", nil)
	fetchBody(t, c, newFetchContext(in, "/page"))

	req, _ := b.lastRequest()
	assert.Equal(t, "www.example.org", req.Host)
	assert.Equal(t, "192.0.2.1", req.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "www.example.org:80", req.Header.Get("X-Forwarded-Host"))
	assert.Equal(t, "http", req.Header.Get("X-Forwarded-Proto"))
}

func TestFetchDecodesBody(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b.URL, Options{})

	rsp, err := c.Fetch(newFetchContext(inbound(), "/gzip"))
	require.NoError(t, err)
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, string(body))
	assert.Empty(t, rsp.Header.Get("Content-Encoding"))
}

type retryAuth struct {
	NoAuth
	calls int
}

func (a *retryAuth) PreRequest(req *http.Request, _ *resource.Context) {
	req.Header.Set("X-Attempt", strconv.Itoa(a.calls))
}

func (a *retryAuth) NeedsNewRequest(*http.Response, *http.Request, *resource.Context) bool {
	a.calls++
	return a.calls == 1
}

func TestAuthRetry(t *testing.T) {
	b := newTestBackend(t)
	a := &retryAuth{}
	c := newTestClient(t, b.URL, Options{Auth: a})

	assert.Equal(t, "hello", fetchBody(t, c, newFetchContext(inbound(), "/page")))
	assert.Equal(t, int32(2), b.hits.Load())

	req, _ := b.lastRequest()
	assert.Equal(t, "1", req.Header.Get("X-Attempt"))
}
