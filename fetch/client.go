package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdnet "net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"github.com/FMHsieh/esigate/cache"
	"github.com/FMHsieh/esigate/circuit"
	"github.com/FMHsieh/esigate/loadbalancer"
	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/metrics"
	"github.com/FMHsieh/esigate/net"
	"github.com/FMHsieh/esigate/resource"
)

// StatusClientClosedRequest is reported when the inbound request was
// canceled during the backend call.
const StatusClientClosedRequest = 499

var errBreakerOpen = errors.New("circuit breaker open")

// Options configure the client of an instance.
type Options struct {
	// Instance is the name of the instance, used in logs and metrics.
	Instance string

	// Strategy chooses the base URL of every call.
	Strategy loadbalancer.Strategy

	// Transport executes the requests, typically the cache in front
	// of a net.Transport. Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	// Headers decides which headers are forwarded. Defaults to the
	// default lists.
	Headers *HeaderPolicy

	// Cookies decides which cookies are forwarded. By default no
	// inbound cookie is forwarded.
	Cookies *CookiePolicy

	// Auth decorates the requests, defaults to NoAuth.
	Auth AuthenticationHandler

	// PreserveHost sends the inbound Host to the backends.
	PreserveHost bool

	// ForwardedHeaders, when set, sets the X-Forwarded-* headers.
	ForwardedHeaders *net.ForwardedHeaders

	// URIEncoding encodes the parameters merged into the query.
	// Defaults to UTF-8.
	URIEncoding encoding.Encoding

	// Breakers, when set, provides the circuit breakers of the backend
	// hosts.
	Breakers *circuit.Registry

	// FetchLog enables logging every backend call.
	FetchLog bool

	// ErrorStatus is the lowest status returned as an error page,
	// defaults to 400.
	ErrorStatus int

	Metrics metrics.Metrics
	Log     logging.Logger
}

// Client executes the backend calls of an instance.
type Client struct {
	options Options
}

// NewClient creates the client of an instance.
func NewClient(o Options) (*Client, error) {
	if o.Strategy == nil {
		return nil, errors.New("missing base url strategy")
	}

	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}

	if o.Headers == nil {
		o.Headers = NewHeaderPolicy(HeaderOptions{})
	}

	if o.Cookies == nil {
		o.Cookies = NewCookiePolicy(nil, nil)
	}

	if o.Auth == nil {
		o.Auth = NoAuth{}
	}

	if o.ErrorStatus <= 0 {
		o.ErrorStatus = http.StatusBadRequest
	}

	if o.Metrics == nil {
		o.Metrics = metrics.NewVoid()
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	return &Client{options: o}, nil
}

// Headers returns the header policy of the client.
func (c *Client) Headers() *HeaderPolicy { return c.options.Headers }

// Auth returns the authentication handler of the client.
func (c *Client) Auth() AuthenticationHandler { return c.options.Auth }

// ResolveURL returns the absolute URL of relURL: relURL itself when it is
// absolute, otherwise the base URL and relURL joined with a single slash.
func ResolveURL(base, relURL string) string {
	if u, err := url.Parse(relURL); err == nil && u.IsAbs() {
		return relURL
	}

	if relURL == "" {
		return base
	}

	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(relURL, "/")
}

func (c *Client) encode(s string) string {
	if c.options.URIEncoding != nil {
		if e, err := c.options.URIEncoding.NewEncoder().String(s); err == nil {
			s = e
		}
	}

	return url.QueryEscape(s)
}

// mergeParams appends the parameters to the query of u, sorted by key.
func (c *Client) mergeParams(u string, params url.Values) string {
	if len(params) == 0 {
		return u
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var q strings.Builder
	for _, k := range keys {
		for _, v := range params[k] {
			if q.Len() > 0 {
				q.WriteByte('&')
			}

			q.WriteString(c.encode(k))
			q.WriteByte('=')
			q.WriteString(c.encode(v))
		}
	}

	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}

	return u + sep + q.String()
}

func (c *Client) balancerContext(rc *resource.Context) *loadbalancer.Context {
	lc := &loadbalancer.Context{Request: rc.Original()}
	if rc.Request != nil && rc.Request.User != nil {
		lc.Sticky = rc.Request.User
	}

	return lc
}

func jar(rc *resource.Context) http.CookieJar {
	if rc.Request == nil || rc.Request.User == nil {
		return nil
	}

	return rc.Request.User.Jar()
}

// CreateRequest creates the outgoing request of a fetch. It sets
// rc.BaseURL to the chosen base URL.
func (c *Client) CreateRequest(rc *resource.Context) (*http.Request, error) {
	rc.BaseURL = c.options.Strategy.Apply(c.balancerContext(rc))
	target := c.mergeParams(ResolveURL(rc.BaseURL, rc.RelURL), rc.Params)

	method := rc.Method
	if method == "" {
		method = http.MethodGet
	}

	in := rc.Original()

	var body io.Reader
	if rc.Proxy && in != nil && in.Body != nil && in.Body != http.NoBody {
		body = in.Body
	}

	ctx := cache.WithRequestOptions(rc.Context(), cache.RequestOptions{
		NoStore: !rc.Cacheable(),
		TTL:     rc.TTL,
	})

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, resource.NewErrorPage(http.StatusBadGateway, "invalid backend url", err)
	}

	if in != nil {
		c.options.Headers.CopyRequestHeaders(req.Header, in.Header)
		if body != nil {
			req.ContentLength = in.ContentLength
		}

		if c.options.PreserveHost && in.Host != "" {
			scheme := "http"
			if in.TLS != nil {
				scheme = "https"
			}

			req.Host = net.StripDefaultPort(in.Host, scheme)
		}

		if c.options.ForwardedHeaders != nil {
			c.options.ForwardedHeaders.Set(req, in)
		}
	}

	req.Header.Set("Accept-Encoding", acceptEncoding)
	c.options.Cookies.addRequestCookies(req, in, jar(rc))
	c.options.Auth.PreRequest(req, rc)
	return req, nil
}

// Fetch creates and executes the request of a fetch.
func (c *Client) Fetch(rc *resource.Context) (*http.Response, error) {
	req, err := c.CreateRequest(rc)
	if err != nil {
		return nil, err
	}

	return c.Execute(rc, req)
}

// Execute executes a request, and issues it again as long as the
// authentication handler requires it. The body of the returned response
// is decoded. Error statuses are returned as *resource.ErrorPage.
func (c *Client) Execute(rc *resource.Context, req *http.Request) (*http.Response, error) {
	for {
		rsp, err := c.roundTrip(rc, req)
		if err != nil {
			return nil, err
		}

		if !c.options.Auth.NeedsNewRequest(rsp, req, rc) {
			return c.response(rc, rsp)
		}

		rsp.Body.Close()
		if req, err = c.CreateRequest(rc); err != nil {
			return nil, err
		}
	}
}

// cancelBody releases the maxwait deadline when the body is closed
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

func (c *Client) roundTrip(rc *resource.Context, req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	var done func(bool)
	if b := c.options.Breakers.Get(host); b != nil {
		var ok bool
		if done, ok = b.Allow(); !ok {
			c.options.Metrics.IncFetchErrors(c.options.Instance, http.StatusServiceUnavailable)
			return nil, resource.NewErrorPage(http.StatusServiceUnavailable, "", errBreakerOpen)
		}
	}

	cancel := context.CancelFunc(func() {})
	if rc.MaxWait > 0 {
		var ctx context.Context
		ctx, cancel = context.WithTimeout(req.Context(), rc.MaxWait)
		req = req.WithContext(ctx)
	}

	start := time.Now()
	rsp, err := c.options.Transport.RoundTrip(req)
	c.options.Metrics.MeasureFetch(c.options.Instance, host, start)
	if err != nil {
		cancel()
		if done != nil {
			done(false)
		}

		ep := transportError(req, err)
		c.options.Metrics.IncFetchErrors(c.options.Instance, ep.StatusCode)
		c.logFetch(req, nil, start, ep)
		c.options.Log.Errorf("failed to fetch %s from %s: %v", req.URL, c.options.Instance, err)
		return nil, ep
	}

	if done != nil {
		done(rsp.StatusCode < http.StatusInternalServerError)
	}

	rsp.Body = cancelBody{ReadCloser: rsp.Body, cancel: cancel}
	if rsp.Request == nil {
		rsp.Request = req
	}

	c.logFetch(req, rsp, start, nil)
	return rsp, nil
}

func transportError(req *http.Request, err error) *resource.ErrorPage {
	var nerr stdnet.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &nerr) && nerr.Timeout():
		return resource.NewErrorPage(http.StatusGatewayTimeout, "", err)
	case errors.Is(err, context.Canceled) && req.Context().Err() != nil:
		return resource.NewErrorPage(StatusClientClosedRequest, "Client Closed Request", err)
	default:
		return resource.NewErrorPage(http.StatusBadGateway, "", err)
	}
}

func (c *Client) logFetch(req *http.Request, rsp *http.Response, start time.Time, err error) {
	if !c.options.FetchLog {
		return
	}

	e := &logging.FetchEntry{
		Instance: c.options.Instance,
		Request:  req,
		Duration: time.Since(start),
		Err:      err,
	}

	if rsp != nil {
		e.StatusCode = rsp.StatusCode
		e.Status = rsp.Status
		e.Cache = rsp.Header.Get(cache.XCacheHeader)
	} else {
		e.StatusCode = resource.StatusCode(err)
	}

	logging.LogFetch(e)
}

// forwardedCookiesKey carries the backend cookies returned to the client
// in proxy mode.
const forwardedCookiesKey = "X-Esigate-Int-Forwarded-Cookies"

func (c *Client) response(rc *resource.Context, rsp *http.Response) (*http.Response, error) {
	for _, fc := range c.options.Cookies.receive(rsp, jar(rc), rc.Proxy) {
		rsp.Header.Add(forwardedCookiesKey, fc.String())
	}

	if err := decode(rsp); err != nil {
		rsp.Body.Close()
		return nil, resource.NewErrorPage(http.StatusBadGateway, "", err)
	}

	if rsp.StatusCode < c.options.ErrorStatus {
		return rsp, nil
	}

	defer rsp.Body.Close()
	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, transportError(rsp.Request, fmt.Errorf("failed to read error response: %w", err))
	}

	ep := &resource.ErrorPage{
		StatusCode: rsp.StatusCode,
		Reason:     reason(rsp),
		Body:       string(body),
		Header:     make(http.Header),
	}

	c.CopyResponseHeaders(ep.Header, rsp)
	c.options.Metrics.IncFetchErrors(c.options.Instance, rsp.StatusCode)
	return nil, ep
}

func reason(rsp *http.Response) string {
	if r := strings.TrimSpace(strings.TrimPrefix(rsp.Status, fmt.Sprint(rsp.StatusCode))); r != "" {
		return r
	}

	return http.StatusText(rsp.StatusCode)
}

// CopyResponseHeaders copies the headers of a backend response to be
// sent to the client, together with the backend cookies forwarded in
// proxy mode.
func (c *Client) CopyResponseHeaders(dst http.Header, rsp *http.Response) {
	c.options.Headers.CopyResponseHeaders(dst, rsp.Header)
	dst.Del(forwardedCookiesKey)
	for _, sc := range rsp.Header.Values(forwardedCookiesKey) {
		dst.Add("Set-Cookie", sc)
	}
}
