package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/FMHsieh/esigate/net"
)

const (
	// StatusCodeHeader and ReasonPhraseHeader keep the original status
	// of an error response stored with a forced TTL. They are never
	// sent to the clients.
	StatusCodeHeader   = "X-Esigate-Int-Status-Code"
	ReasonPhraseHeader = "X-Esigate-Int-Reason-Phrase"

	// XCacheHeader reports the cache result when enabled.
	XCacheHeader = "X-Cache"
)

// Entry is a stored response.
type Entry struct {
	Key        string      `json:"key"`
	StatusCode int         `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`

	// RequestTime and ResponseTime are the times when the request was
	// sent and the response received, for the age calculation.
	RequestTime  time.Time `json:"requestTime"`
	ResponseTime time.Time `json:"responseTime"`

	// TTL is the forced freshness lifetime, zero when the response
	// headers decide.
	TTL time.Duration `json:"ttl,omitempty"`

	// Vary, when set, makes the entry a marker of the request headers
	// that select the stored variants.
	Vary []string `json:"vary,omitempty"`
}

// Key returns the cache key of a request: the normalized absolute URL,
// and the Host header when it differs from the URL.
func Key(req *http.Request) string {
	u := *req.URL
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = net.StripDefaultPort(strings.ToLower(u.Host), u.Scheme)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	k := u.String()
	if h := net.StripDefaultPort(strings.ToLower(req.Host), u.Scheme); h != "" && h != u.Host {
		k += " host=" + h
	}

	return k
}

func varyNames(h http.Header) []string {
	var names []string
	for _, v := range h.Values("Vary") {
		for n := range strings.SplitSeq(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, http.CanonicalHeaderKey(n))
			}
		}
	}

	slices.Sort(names)
	return slices.Compact(names)
}

// variantKey adds the values of the varying request headers to the key
func variantKey(key string, vary []string, req *http.Request) string {
	var b strings.Builder
	b.WriteString(key)
	for _, n := range vary {
		b.WriteString(" vary:")
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(strings.Join(req.Header.Values(n), ",")))
	}

	return b.String()
}

func newEntry(key string, rsp *http.Response, body []byte, requestTime, responseTime time.Time) *Entry {
	return &Entry{
		Key:          key,
		StatusCode:   rsp.StatusCode,
		Reason:       reasonPhrase(rsp.StatusCode, rsp.Status),
		Header:       rsp.Header.Clone(),
		Body:         body,
		RequestTime:  requestTime,
		ResponseTime: responseTime,
	}
}

func reasonPhrase(code int, status string) string {
	if r := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code))); r != "" {
		return r
	}

	return http.StatusText(code)
}

// disguise stores a non-200 response as 200, with the original status in
// the internal headers.
func (e *Entry) disguise() {
	if e.StatusCode == http.StatusOK {
		return
	}

	e.Header.Set(StatusCodeHeader, strconv.Itoa(e.StatusCode))
	e.Header.Set(ReasonPhraseHeader, e.Reason)
	e.StatusCode = http.StatusOK
	e.Reason = http.StatusText(http.StatusOK)
}

// status returns the original status of the entry.
func (e *Entry) status() (int, string) {
	if c, err := strconv.Atoi(e.Header.Get(StatusCodeHeader)); err == nil {
		return c, e.Header.Get(ReasonPhraseHeader)
	}

	return e.StatusCode, e.Reason
}

// response creates a response from the entry, with the original status
// and without the internal headers.
func (e *Entry) response(req *http.Request) *http.Response {
	code, reason := e.status()
	h := e.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}

	h.Del(StatusCodeHeader)
	h.Del(ReasonPhraseHeader)
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", code, reason),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// update merges the headers of a 304 response into the entry.
func (e *Entry) update(h http.Header, requestTime, responseTime time.Time) *Entry {
	u := *e
	u.Header = e.Header.Clone()
	for k, v := range h {
		switch http.CanonicalHeaderKey(k) {
		case "Content-Length", "Content-Encoding", "Transfer-Encoding":
			continue
		}

		u.Header[k] = slices.Clone(v)
	}

	u.RequestTime = requestTime
	u.ResponseTime = responseTime
	return &u
}

func (e *Entry) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(b []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("invalid cache entry: %w", err)
	}

	return &e, nil
}
