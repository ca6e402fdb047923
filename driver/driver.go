/*
Package driver implements the aggregation of the pages of one backend
instance: the fetch of a page through the cache, the URL fixup and the
renderer chain, and the reverse proxy of the inbound requests.

A Driver is built from a Config, created from the flat properties of the
instance:

	remoteUrlBase=http://backend1:8080/app/, http://backend2:8080/app/
	remoteUrlBaseStrategy=roundrobin
	fixResources=true
	visibleUrlBase=https://www.example.org/app/
	extensions=fetchlogging, forwardedheaders

Every Driver owns its backend transport, its cache and the revalidation
pool of the cache. Close releases them.
*/
package driver

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/FMHsieh/esigate/aggregator"
	"github.com/FMHsieh/esigate/cache"
	"github.com/FMHsieh/esigate/circuit"
	"github.com/FMHsieh/esigate/esi"
	"github.com/FMHsieh/esigate/fetch"
	"github.com/FMHsieh/esigate/loadbalancer"
	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/metrics"
	"github.com/FMHsieh/esigate/net"
	"github.com/FMHsieh/esigate/render"
	"github.com/FMHsieh/esigate/resource"
	"github.com/FMHsieh/esigate/tracing"
	"github.com/FMHsieh/esigate/vars"
)

const (
	stickyKeyPrefix    = "esigate.sticky."
	storagePingTimeout = 5 * time.Second
)

// Options contain the shared dependencies of the instances.
type Options struct {
	// InlineCache keeps the esi:inline fragments. When nil, the
	// instance has its own.
	InlineCache *esi.InlineCache

	Metrics metrics.Metrics
	Log     logging.Logger
}

// Driver renders and proxies the pages of an instance. It implements
// resource.Provider.
type Driver struct {
	config    *Config
	client    *fetch.Client
	cache     *cache.Cache
	transport *net.Transport
	rewriter  *render.URLRewriter
	esi       *esi.Renderer
	metrics   metrics.Metrics
	log       logging.Logger
}

var _ resource.Provider = (*Driver)(nil)

// New creates the driver of an instance and its backend stack.
func New(c *Config, o Options) (*Driver, error) {
	if o.Metrics == nil {
		o.Metrics = metrics.NewVoid()
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	log := o.Log.WithFields(map[string]interface{}{"instance": c.Name})

	strategy, err := loadbalancer.New(c.Strategy, c.BaseURLs, stickyKeyPrefix+c.Name)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", c.Name, err)
	}

	auth, err := fetch.NewAuthenticationHandler(c.AuthenticationHandler, fetch.AuthOptions{
		RemoteUserHeader: c.RemoteUserHeader,
		HtpasswdFile:     c.HtpasswdFile,
	})
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", c.Name, err)
	}

	d := &Driver{
		config:   c,
		rewriter: render.NewURLRewriter(c.VisibleURLBase, c.FixMode),
		esi:      esi.New(esi.Options{InlineCache: o.InlineCache}),
		metrics:  o.Metrics,
		log:      log,
	}

	d.transport = net.NewTransport(net.Options{
		MaxConnsPerHost:       c.MaxConnectionsPerHost,
		DialTimeout:           c.ConnectTimeout,
		ResponseHeaderTimeout: c.SocketTimeout,
		Timeout:               c.SocketTimeout,
		Proxy:                 c.Proxy,
	})

	var rt http.RoundTripper = d.transport
	if c.UseCache {
		storage, err := newStorage(c, o.Metrics, log)
		if err != nil {
			d.transport.Close()
			return nil, err
		}

		d.cache = cache.New(cache.Options{
			Instance:                 c.Name,
			Storage:                  storage,
			Transport:                d.transport,
			MaxObjectSize:            c.MaxObjectSize,
			TTL:                      c.TTL,
			HeuristicCaching:         c.HeuristicCaching,
			HeuristicCoefficient:     c.HeuristicCoefficient,
			HeuristicDefaultLifetime: c.HeuristicDefaultLifetime,
			StaleWhileRevalidate:     c.StaleWhileRevalidate,
			StaleIfError:             c.StaleIfError,
			XCacheHeader:             c.XCacheHeader,
			Pool: cache.NewPool(cache.PoolOptions{
				Instance:     c.Name,
				MinWorkers:   c.MinAsynchronousWorkers,
				MaxWorkers:   c.MaxAsynchronousWorkers,
				IdleLifetime: c.WorkerIdleLifetime,
				QueueSize:    c.RevalidationQueueSize,
				MaxRetries:   c.MaxUpdateRetries,
				Metrics:      o.Metrics,
				Log:          log,
			}),
			Metrics: o.Metrics,
			Log:     log,
		})

		rt = d.cache
	}

	var forwarded *net.ForwardedHeaders
	if c.ForwardedHeaders {
		h := net.AllForwardedHeaders
		forwarded = &h
	}

	var breakers *circuit.Registry
	if c.Breaker.Enabled() {
		breakers = circuit.NewRegistry(c.Breaker)
	}

	d.client, err = fetch.NewClient(fetch.Options{
		Instance:  c.Name,
		Strategy:  strategy,
		Transport: rt,
		Headers: fetch.NewHeaderPolicy(fetch.HeaderOptions{
			DiscardRequest:  c.DiscardRequestHeaders,
			ForwardRequest:  c.ForwardRequestHeaders,
			DiscardResponse: c.DiscardResponseHeaders,
			ForwardResponse: c.ForwardResponseHeaders,
		}),
		Cookies:          fetch.NewCookiePolicy(c.ForwardCookies, c.DiscardCookies),
		Auth:             auth,
		PreserveHost:     c.PreserveHost,
		ForwardedHeaders: forwarded,
		URIEncoding:      c.URIEncoding,
		Breakers:         breakers,
		FetchLog:         c.FetchLogging,
		Metrics:          o.Metrics,
		Log:              log,
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

func newStorage(c *Config, m metrics.Metrics, log logging.Logger) (cache.Storage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storagePingTimeout)
	defer cancel()

	switch c.CacheStorage {
	case RedisStorage:
		client := net.NewRedisRingClient(&net.RedisOptions{
			Addrs:         c.CacheStorageAddresses,
			Metrics:       m,
			MetricsPrefix: "cache.redis." + c.Name + ".",
			Log:           log,
		})

		if !client.RingAvailable(ctx) {
			log.Warnf("redis cache storage of %s is not available", c.Name)
		}

		client.StartMetricsCollection()
		return cache.NewRedis(client, c.Name), nil
	case ValkeyStorage:
		client, err := net.NewValkeyRingClient(&net.ValkeyOptions{
			Addrs:         c.CacheStorageAddresses,
			Metrics:       m,
			MetricsPrefix: "cache.valkey." + c.Name + ".",
			Log:           log,
		})
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", c.Name, err)
		}

		if !client.RingAvailable(ctx) {
			log.Warnf("valkey cache storage of %s is not available", c.Name)
		}

		return cache.NewValkey(client, c.Name), nil
	default:
		return cache.NewMemory(c.MaxCacheEntries), nil
	}
}

// Close stops the revalidations, and releases the cache storage and the
// backend connections.
func (d *Driver) Close() {
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			d.log.Errorf("failed to close the cache of %s: %v", d.config.Name, err)
		}
	}

	d.transport.Close()
}

func (d *Driver) Name() string { return d.config.Name }

// Config returns the configuration of the instance.
func (d *Driver) Config() *Config { return d.config }

// ESI returns the ESI renderer of the instance.
func (d *Driver) ESI() *esi.Renderer { return d.esi }

// BaseURL returns the base URL chosen for the fetch, or the first base
// URL before the fetch.
func (d *Driver) BaseURL(rc *resource.Context) string {
	if rc != nil && rc.BaseURL != "" {
		return rc.BaseURL
	}

	return d.config.BaseURLs[0]
}

func (d *Driver) VisibleBaseURL(base string) string {
	return d.config.VisibleBaseURL(base)
}

// DefaultRenderers are the renderers of the proxied pages: the ESI
// directives and then the comment directives.
func (d *Driver) DefaultRenderers() []resource.Renderer {
	return []resource.Renderer{d.esi.Render, aggregator.Render}
}

func (d *Driver) charset(contentType string) (encoding.Encoding, string) {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if name := params["charset"]; name != "" {
			if e, err := htmlindex.Get(name); err == nil {
				return e, name
			}

			d.log.Debugf("unknown charset %s, using %s", name, d.config.DefaultCharsetName)
		}
	}

	return d.config.DefaultCharset, d.config.DefaultCharsetName
}

func hasCharset(contentType string) bool {
	_, params, err := mime.ParseMediaType(contentType)
	return err == nil && params["charset"] != ""
}

// readText reads the body of a response as UTF-8 text
func (d *Driver) readText(rsp *http.Response) (string, error) {
	enc, _ := d.charset(rsp.Header.Get("Content-Type"))
	b, err := io.ReadAll(enc.NewDecoder().Reader(rsp.Body))
	if err != nil {
		return "", resource.NewErrorPage(http.StatusBadGateway, "", fmt.Errorf("failed to read response: %w", err))
	}

	return string(b), nil
}

func memoKey(rc *resource.Context) string {
	k := rc.RelURL
	if len(rc.Params) > 0 {
		k += "?" + rc.Params.Encode()
	}

	return k
}

// fetchText fetches the page of the context as text. The cacheable pages
// are fetched once per inbound request.
func (d *Driver) fetchText(rc *resource.Context) (string, error) {
	memo := rc.Cacheable() && rc.Request != nil
	key := d.config.Name + " " + memoKey(rc)
	if memo {
		if p, ok := rc.Request.Memo(key); ok {
			rc.BaseURL = p.BaseURL
			return p.Text, nil
		}
	}

	rsp, err := d.client.Fetch(rc)
	if err != nil {
		return "", err
	}

	defer rsp.Body.Close()
	s, err := d.readText(rsp)
	if err != nil {
		return "", err
	}

	if memo {
		rc.Request.SetMemo(key, resource.Page{Text: s, BaseURL: rc.BaseURL})
	}

	return s, nil
}

func (d *Driver) fixup(renderers []resource.Renderer) []resource.Renderer {
	if !d.config.FixResources {
		return renderers
	}

	return append([]resource.Renderer{render.Fixup(d.rewriter)}, renderers...)
}

func (d *Driver) measure(rc *resource.Context, operation string) func(error) {
	start := time.Now()
	_, span := tracing.Start(rc.Context(), "esigate."+operation,
		attribute.String("esigate.instance", d.config.Name),
		attribute.String("esigate.url", rc.RelURL),
	)

	return func(err error) {
		tracing.End(span, err)
		d.metrics.MeasureRender(d.config.Name, operation, start)
	}
}

// Render fetches the page rc.RelURL, applies the URL fixup when
// configured, and the renderers in order.
func (d *Driver) Render(rc *resource.Context, renderers ...resource.Renderer) (string, error) {
	return d.render(rc, "render", renderers...)
}

func (d *Driver) render(rc *resource.Context, operation string, renderers ...resource.Renderer) (out string, err error) {
	done := d.measure(rc, operation)
	defer func() { done(err) }()

	d.log.Debugf("%s provider=%s page=%s", operation, d.config.Name, rc.RelURL)
	if rc.Provider == nil {
		rc.Provider = d
	}

	page, err := d.fetchText(rc)
	if err != nil {
		return "", err
	}

	return resource.Chain(rc, page, d.fixup(renderers)...)
}

func (d *Driver) newContext(r *resource.Request, page string, params url.Values) *resource.Context {
	rc := resource.NewContext(r, d, vars.Resolve(page, r.Original))
	rc.Params = params
	return rc
}

// RenderBlock renders the block name of a page. Without a name, the
// whole page is rendered. A missing block renders empty.
func (d *Driver) RenderBlock(r *resource.Request, page, name string, params url.Values, rules ...render.Rule) (string, error) {
	renderers := []resource.Renderer{render.Replace(rules...)}
	if name != "" {
		renderers = append([]resource.Renderer{render.Block(name)}, renderers...)
	}

	return d.render(d.newContext(r, page, params), "block", renderers...)
}

// RenderTemplate renders the template name of a page with the params
// replaced. Without a name, the whole page is the template.
func (d *Driver) RenderTemplate(r *resource.Request, page, name string, templateParams map[string]string, params url.Values, rules ...render.Rule) (string, error) {
	return d.render(d.newContext(r, page, params), "template", render.Template(name, templateParams), render.Replace(rules...))
}

// RenderXPath renders the nodes of a page selected by an XPath
// expression.
func (d *Driver) RenderXPath(r *resource.Request, source, xpath string, rules ...render.Rule) (string, error) {
	x, err := render.XPath(xpath)
	if err != nil {
		return "", err
	}

	return d.render(d.newContext(r, source, nil), "xpath", x, render.Replace(rules...))
}

// RenderXML renders a page through a stylesheet, a page of the same
// instance.
func (d *Driver) RenderXML(r *resource.Request, source, stylesheet string, rules ...render.Rule) (string, error) {
	src, err := d.fetchText(d.newContext(r, stylesheet, nil))
	if err != nil {
		return "", err
	}

	t, err := render.ParseStylesheet(stylesheet, src)
	if err != nil {
		return "", err
	}

	return d.render(d.newContext(r, source, nil), "xml", render.Stylesheet(t), render.Replace(rules...))
}

// RenderESI renders a page with its ESI directives processed.
func (d *Driver) RenderESI(r *resource.Request, page string) (string, error) {
	return d.render(d.newContext(r, page, nil), "esi", d.esi.Render)
}

// Proxy relays the inbound request to the backend, and the response to
// the client. The parsable responses go through the URL fixup and the
// renderers, the DefaultRenderers when none are passed, in the charset of
// the response. The other responses are streamed.
//
// It returns an error only before the response was written. The
// *resource.ErrorPage errors carry the response to relay.
func (d *Driver) Proxy(w http.ResponseWriter, r *resource.Request, relURL string, renderers ...resource.Renderer) (err error) {
	rc := resource.NewContext(r, d, relURL)
	rc.Method = r.Original.Method
	rc.Proxy = true

	done := d.measure(rc, "proxy")
	defer func() { done(err) }()

	d.log.Debugf("proxy provider=%s url=%s", d.config.Name, relURL)
	if !d.client.Auth().BeforeProxy(w, rc) {
		return nil
	}

	rsp, err := d.client.Fetch(rc)
	if err != nil {
		return err
	}

	defer rsp.Body.Close()

	h := w.Header()
	d.client.CopyResponseHeaders(h, rsp)
	d.rewriteLocation(h, rc)

	head := r.Original.Method == http.MethodHead
	contentType := rsp.Header.Get("Content-Type")
	if !d.config.Parsable(contentType) {
		if rsp.ContentLength >= 0 {
			h.Set("Content-Length", strconv.FormatInt(rsp.ContentLength, 10))
		}

		w.WriteHeader(rsp.StatusCode)
		if head {
			return nil
		}

		if _, err := io.Copy(w, rsp.Body); err != nil {
			d.log.Debugf("failed to stream %s: %v", relURL, err)
		}

		return nil
	}

	enc, name := d.charset(contentType)
	b, err := io.ReadAll(enc.NewDecoder().Reader(rsp.Body))
	if err != nil {
		return resource.NewErrorPage(http.StatusBadGateway, "", fmt.Errorf("failed to read response: %w", err))
	}

	if len(renderers) == 0 {
		renderers = d.DefaultRenderers()
	}

	out, err := resource.Chain(rc, string(b), d.fixup(renderers)...)
	if err != nil {
		return err
	}

	b, err = encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(out))
	if err != nil {
		return resource.NewErrorPage(http.StatusInternalServerError, "", fmt.Errorf("failed to encode response: %w", err))
	}

	if d.config.AddCharset && !hasCharset(contentType) {
		h.Set("Content-Type", contentType+"; charset="+name)
	}

	h.Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(rsp.StatusCode)
	if !head {
		if _, err := w.Write(b); err != nil {
			d.log.Debugf("failed to write %s: %v", relURL, err)
		}
	}

	return nil
}

// rewriteLocation makes the redirects to the backend point to the
// gateway
func (d *Driver) rewriteLocation(h http.Header, rc *resource.Context) {
	loc := h.Get("Location")
	if loc == "" {
		return
	}

	if v := d.config.VisibleURLBase; v != "" {
		if strings.HasPrefix(loc, rc.BaseURL) {
			h.Set("Location", fetch.ResolveURL(v, strings.TrimPrefix(loc, rc.BaseURL)))
		}

		return
	}

	in := rc.Original()
	u, err := url.Parse(loc)
	if err != nil || !u.IsAbs() || in == nil || in.Host == "" {
		return
	}

	b, err := url.Parse(rc.BaseURL)
	if err != nil || !strings.EqualFold(u.Host, b.Host) {
		return
	}

	u.Scheme = "http"
	if in.TLS != nil {
		u.Scheme = "https"
	}

	u.Host = in.Host
	h.Set("Location", u.String())
}
