package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/metrics"
)

const (
	DefaultMaxObjectSize        = 1000000
	DefaultHeuristicCoefficient = 0.1

	// validatorKeep is added to the storage TTL of the responses that
	// can be revalidated
	validatorKeep = time.Hour

	staleWarning       = `110 - "Response is Stale"`
	revalidationFailed = `111 - "Revalidation Failed"`
)

var errNotShared = errors.New("response not shared")

// RequestOptions are the per request cache settings.
type RequestOptions struct {
	// NoStore bypasses the cache.
	NoStore bool

	// TTL, when positive, forces the freshness lifetime of the
	// response.
	TTL time.Duration
}

type requestOptionsKey struct{}

// WithRequestOptions returns a context carrying the cache settings of a
// request.
func WithRequestOptions(ctx context.Context, o RequestOptions) context.Context {
	return context.WithValue(ctx, requestOptionsKey{}, o)
}

func requestOptions(ctx context.Context) RequestOptions {
	o, _ := ctx.Value(requestOptionsKey{}).(RequestOptions)
	return o
}

// Options configure the cache of an instance.
type Options struct {
	Instance string

	// Storage keeps the entries, defaults to a memory storage of
	// DefaultMaxEntries.
	Storage Storage

	// Transport executes the backend requests.
	Transport http.RoundTripper

	// MaxObjectSize is the size limit of the stored bodies, defaults
	// to DefaultMaxObjectSize.
	MaxObjectSize int64

	// TTL, when positive, forces the freshness lifetime of every GET
	// response.
	TTL time.Duration

	HeuristicCaching         bool
	HeuristicCoefficient     float64
	HeuristicDefaultLifetime time.Duration

	// StaleWhileRevalidate and StaleIfError are the default stale
	// windows, used when the response does not set them.
	StaleWhileRevalidate time.Duration
	StaleIfError         time.Duration

	// XCacheHeader enables the X-Cache response header.
	XCacheHeader bool

	// Pool runs the background revalidations. Without it, stale
	// responses are revalidated synchronously.
	Pool *Pool

	Metrics metrics.Metrics
	Log     logging.Logger
}

// Cache is a shared HTTP cache.
type Cache struct {
	options   Options
	freshness freshness
	group     singleflight.Group
	now       func() time.Time
}

// New creates a cache in front of the transport.
func New(o Options) *Cache {
	if o.Storage == nil {
		o.Storage = NewMemory(DefaultMaxEntries)
	}

	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}

	if o.MaxObjectSize <= 0 {
		o.MaxObjectSize = DefaultMaxObjectSize
	}

	if o.HeuristicCoefficient <= 0 {
		o.HeuristicCoefficient = DefaultHeuristicCoefficient
	}

	if o.Metrics == nil {
		o.Metrics = metrics.NewVoid()
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	return &Cache{
		options: o,
		freshness: freshness{
			heuristic:            o.HeuristicCaching,
			heuristicCoefficient: o.HeuristicCoefficient,
			heuristicDefault:     o.HeuristicDefaultLifetime,
		},
		now: time.Now,
	}
}

// Close stops the background revalidations and closes the storage.
func (c *Cache) Close() error {
	c.options.Pool.Close()
	return c.options.Storage.Close()
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

// RoundTrip implements http.RoundTripper.
func (c *Cache) RoundTrip(req *http.Request) (*http.Response, error) {
	ro := requestOptions(req.Context())
	rd := parseCacheControl(req.Header)
	if req.Method != http.MethodGet || ro.NoStore || rd.has("no-store") {
		rsp, err := c.options.Transport.RoundTrip(req)
		if err == nil && unsafeMethod(req.Method) && rsp.StatusCode < http.StatusBadRequest {
			c.invalidate(req)
		}

		return rsp, err
	}

	key := Key(req)
	e, variant := c.lookup(req, key)
	if e == nil {
		return c.miss(req, key, ro)
	}

	now := c.now()
	lifetime := c.freshness.lifetime(e)
	currentAge := age(e, now)
	if currentAge < lifetime && !rd.has("no-cache") {
		c.options.Metrics.IncCache(c.options.Instance, metrics.CacheHit)
		return c.respond(req, e, metrics.CacheHit, currentAge, ""), nil
	}

	staleness := currentAge - lifetime
	d := parseCacheControl(e.Header)
	if w := staleWindow(d, "stale-while-revalidate", c.options.StaleWhileRevalidate); staleness < w && c.options.Pool != nil && !rd.has("no-cache") {
		// a dropped revalidation still serves the stale entry
		bg := req.Clone(context.WithoutCancel(req.Context()))
		c.options.Pool.Schedule(variant, func(ctx context.Context) error {
			return c.revalidateBackground(bg.WithContext(ctx), key, variant, e, ro)
		})

		c.options.Metrics.IncCache(c.options.Instance, metrics.CacheStale)
		return c.respond(req, e, metrics.CacheHit, currentAge, staleWarning), nil
	}

	rsp, err := c.revalidate(req, key, variant, e, ro)
	if err != nil || rsp.StatusCode >= http.StatusInternalServerError {
		if w := staleWindow(d, "stale-if-error", c.options.StaleIfError); staleness < w {
			if rsp != nil {
				rsp.Body.Close()
			}

			c.options.Log.Debugf("serving stale %s: %v", key, err)
			c.options.Metrics.IncCache(c.options.Instance, metrics.CacheStale)
			return c.respond(req, e, metrics.CacheHit, currentAge, staleWarning, revalidationFailed), nil
		}
	}

	return rsp, err
}

// lookup returns the entry of the request, and its key after the
// variant selection
func (c *Cache) lookup(req *http.Request, key string) (*Entry, string) {
	ctx := req.Context()
	e, err := c.options.Storage.Get(ctx, key)
	if err != nil {
		c.options.Log.Errorf("cache lookup of %s failed: %v", key, err)
		return nil, key
	}

	if e == nil || len(e.Vary) == 0 {
		return e, key
	}

	variant := variantKey(key, e.Vary, req)
	e, err = c.options.Storage.Get(ctx, variant)
	if err != nil {
		c.options.Log.Errorf("cache lookup of %s failed: %v", variant, err)
		return nil, variant
	}

	return e, variant
}

func (c *Cache) invalidate(req *http.Request) {
	u := *req.URL
	get := &http.Request{Method: http.MethodGet, URL: &u, Host: req.Host, Header: req.Header}
	if err := c.options.Storage.Delete(req.Context(), Key(get)); err != nil {
		c.options.Log.Errorf("cache invalidation of %s failed: %v", req.URL, err)
	}
}

func (c *Cache) xCache(req *http.Request, result string) string {
	return fmt.Sprintf("%s from %s (%s %s)", result, req.URL.Host, req.Method, req.URL.RequestURI())
}

func (c *Cache) respond(req *http.Request, e *Entry, result string, currentAge time.Duration, warnings ...string) *http.Response {
	rsp := e.response(req)
	if currentAge > 0 {
		rsp.Header.Set("Age", strconv.FormatInt(int64(currentAge/time.Second), 10))
	}

	for _, w := range warnings {
		if w != "" {
			rsp.Header.Add("Warning", w)
		}
	}

	if c.options.XCacheHeader {
		rsp.Header.Add(XCacheHeader, c.xCache(req, result))
	}

	return rsp
}

// capture reads the body of a response to store it. When the body is
// larger than the object size limit, it returns false and a response
// streaming the whole body.
func (c *Cache) capture(rsp *http.Response) ([]byte, bool, error) {
	b, err := io.ReadAll(io.LimitReader(rsp.Body, c.options.MaxObjectSize+1))
	if err != nil {
		rsp.Body.Close()
		return nil, false, err
	}

	if int64(len(b)) > c.options.MaxObjectSize {
		rsp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(b), rsp.Body), rsp.Body}
		return nil, false, nil
	}

	rsp.Body.Close()
	return b, true, nil
}

func (c *Cache) ttl(ro RequestOptions) time.Duration {
	if ro.TTL > 0 {
		return ro.TTL
	}

	return c.options.TTL
}

// store keeps the entry when it is worth it, and returns whether it did
func (c *Cache) store(ctx context.Context, key string, req *http.Request, e *Entry, forced time.Duration) bool {
	if forced > 0 {
		e.TTL = forced
		e.disguise()
	}

	lifetime := c.freshness.lifetime(e)
	d := parseCacheControl(e.Header)
	keep := lifetime + max(
		staleWindow(d, "stale-while-revalidate", c.options.StaleWhileRevalidate),
		staleWindow(d, "stale-if-error", c.options.StaleIfError),
	)

	if hasValidator(e.Header) {
		keep += validatorKeep
	}

	if keep <= 0 {
		return false
	}

	if vary := varyNames(e.Header); len(vary) > 0 {
		marker := &Entry{Key: key, Vary: vary}
		if err := c.options.Storage.Put(ctx, key, marker, keep); err != nil {
			c.options.Log.Errorf("failed to store %s: %v", key, err)
			return false
		}

		key = variantKey(key, vary, req)
		e.Key = key
	}

	if err := c.options.Storage.Put(ctx, key, e, keep); err != nil {
		c.options.Log.Errorf("failed to store %s: %v", key, err)
		return false
	}

	return true
}

// shared is the result of a backend call shared by concurrent misses
type shared struct {
	entry   *Entry
	variant string
}

// miss fetches the response and stores it. Concurrent misses of the same
// key share the backend call when the response is stored.
func (c *Cache) miss(req *http.Request, key string, ro RequestOptions) (*http.Response, error) {
	c.options.Metrics.IncCache(c.options.Instance, metrics.CacheMiss)

	var own *http.Response
	v, err, _ := c.group.Do(key, func() (any, error) {
		requestTime := c.now()
		rsp, err := c.options.Transport.RoundTrip(req)
		if err != nil {
			return nil, err
		}

		forced := c.ttl(ro)
		if !c.freshness.storable(rsp, forced > 0) {
			own = rsp
			return nil, errNotShared
		}

		body, ok, err := c.capture(rsp)
		if err != nil {
			return nil, err
		}

		if !ok {
			own = rsp
			return nil, errNotShared
		}

		e := newEntry(key, rsp, body, requestTime, c.now())

		// the disguised status of the stored copy is restored in the
		// responses
		stored := *e
		stored.Header = e.Header.Clone()
		if !c.store(req.Context(), key, req, &stored, forced) {
			own = e.response(req)
			return nil, errNotShared
		}

		return shared{entry: e, variant: stored.Key}, nil
	})

	if own != nil {
		if c.options.XCacheHeader {
			own.Header.Add(XCacheHeader, c.xCache(req, metrics.CacheMiss))
		}

		return own, nil
	}

	if errors.Is(err, errNotShared) {
		return c.options.Transport.RoundTrip(req)
	}

	if err != nil {
		return nil, err
	}

	s := v.(shared)

	// another variant was fetched
	if vary := varyNames(s.entry.Header); len(vary) > 0 && variantKey(key, vary, req) != s.variant {
		return c.options.Transport.RoundTrip(req)
	}

	return c.respond(req, s.entry, metrics.CacheMiss, 0), nil
}

// revalidate sends a conditional request for a stale entry, and updates
// the stored entry with the result.
func (c *Cache) revalidate(req *http.Request, key, variant string, e *Entry, ro RequestOptions) (*http.Response, error) {
	cond := req.Clone(req.Context())
	if etag := e.Header.Get("ETag"); etag != "" {
		cond.Header.Set("If-None-Match", etag)
	}

	if lm := e.Header.Get("Last-Modified"); lm != "" {
		cond.Header.Set("If-Modified-Since", lm)
	}

	requestTime := c.now()
	rsp, err := c.options.Transport.RoundTrip(cond)
	if err != nil {
		return nil, err
	}

	if rsp.StatusCode == http.StatusNotModified {
		rsp.Body.Close()
		u := e.update(rsp.Header, requestTime, c.now())
		c.store(req.Context(), key, req, u, u.TTL)

		c.options.Metrics.IncCache(c.options.Instance, metrics.CacheValidated)
		return c.respond(req, u, metrics.CacheValidated, 0), nil
	}

	if rsp.StatusCode >= http.StatusInternalServerError {
		return rsp, nil
	}

	forced := c.ttl(ro)
	if !c.freshness.storable(rsp, forced > 0) {
		if err := c.options.Storage.Delete(req.Context(), variant); err != nil {
			c.options.Log.Errorf("failed to delete %s: %v", variant, err)
		}

		return rsp, nil
	}

	body, ok, err := c.capture(rsp)
	if err != nil {
		return nil, err
	}

	if !ok {
		return rsp, nil
	}

	n := newEntry(key, rsp, body, requestTime, c.now())
	stored := *n
	stored.Header = n.Header.Clone()
	c.store(req.Context(), key, req, &stored, forced)
	return c.respond(req, n, metrics.CacheMiss, 0), nil
}

func (c *Cache) revalidateBackground(req *http.Request, key, variant string, e *Entry, ro RequestOptions) error {
	rsp, err := c.revalidate(req, key, variant, e, ro)
	if err != nil {
		return err
	}

	_, _ = io.Copy(io.Discard, rsp.Body)
	rsp.Body.Close()
	if rsp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("revalidation of %s failed: %s", variant, rsp.Status)
	}

	return nil
}
