package driver

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/FMHsieh/esigate/circuit"
	"github.com/FMHsieh/esigate/loadbalancer"
	"github.com/FMHsieh/esigate/render"
)

// The instance properties.
const (
	RemoteURLBase                      = "remoteUrlBase"
	RemoteURLBaseStrategy              = "remoteUrlBaseStrategy"
	URIEncoding                        = "uriEncoding"
	ParsableContentTypes               = "parsableContentTypes"
	MaxConnectionsPerHost              = "maxConnectionsPerHost"
	ConnectTimeout                     = "connectTimeout"
	SocketTimeout                      = "socketTimeout"
	ProxyHost                          = "proxyHost"
	ProxyPort                          = "proxyPort"
	ProxyUser                          = "proxyUser"
	ProxyPassword                      = "proxyPassword"
	PreserveHost                       = "preserveHost"
	DiscardRequestHeaders              = "discardRequestHeaders"
	ForwardRequestHeaders              = "forwardRequestHeaders"
	DiscardResponseHeaders             = "discardResponseHeaders"
	ForwardResponseHeaders             = "forwardResponseHeaders"
	DiscardCookies                     = "discardCookies"
	ForwardCookies                     = "forwardCookies"
	FixResources                       = "fixResources"
	FixMode                            = "fixMode"
	VisibleURLBase                     = "visibleUrlBase"
	UseCache                           = "useCache"
	CacheStorage                       = "cacheStorage"
	CacheStorageAddresses              = "cacheStorageAddresses"
	MaxCacheEntries                    = "maxCacheEntries"
	MaxObjectSize                      = "maxObjectSize"
	XCacheHeader                       = "xCacheHeader"
	TTL                                = "ttl"
	HeuristicCachingEnabled            = "heuristicCachingEnabled"
	HeuristicCoefficient               = "heuristicCoefficient"
	HeuristicDefaultLifetimeSecs       = "heuristicDefaultLifetimeSecs"
	StaleWhileRevalidate               = "staleWhileRevalidate"
	StaleIfError                       = "staleIfError"
	MinAsynchronousWorkers             = "minAsynchronousWorkers"
	MaxAsynchronousWorkers             = "maxAsynchronousWorkers"
	AsynchronousWorkerIdleLifetimeSecs = "asynchronousWorkerIdleLifetimeSecs"
	MaxUpdateRetries                   = "maxUpdateRetries"
	RevalidationQueueSize              = "revalidationQueueSize"
	Mappings                           = "mappings"
	Extensions                         = "extensions"
	DefaultCharset                     = "defaultCharset"
	AuthenticationHandler              = "authenticationHandler"
	RemoteUserHeader                   = "remoteUserHeader"
	HtpasswdFile                       = "htpasswdFile"
	BreakerFailures                    = "breakerFailures"
	BreakerTimeout                     = "breakerTimeout"
)

// The extensions enabled by the extensions property.
const (
	FetchLoggingExtension     = "fetchlogging"
	DefaultCharsetExtension   = "defaultcharset"
	ForwardedHeadersExtension = "forwardedheaders"
)

// Storages of the cacheStorage property.
const (
	MemoryStorage = "memory"
	RedisStorage  = "redis"
	ValkeyStorage = "valkey"
)

const (
	defaultURIEncoding          = "ISO-8859-1"
	defaultParsableContentTypes = "text/html, application/xhtml+xml"
	defaultConnectTimeout       = 1000 * time.Millisecond
	defaultSocketTimeout        = 10000 * time.Millisecond
	defaultMaxConnections       = 20
	defaultMaxObjectSize        = 1000000
	defaultMaxCacheEntries      = 1000
	defaultHeuristicCoefficient = 0.1
	defaultWorkerIdleLifetime   = 60 * time.Second
	defaultMaxUpdateRetries     = 1
	defaultRevalidationQueue    = 100
	defaultBreakerTimeout       = 60 * time.Second
)

// ErrMissingBaseURL is returned for an instance without remoteUrlBase.
var ErrMissingBaseURL = errors.New("missing remoteUrlBase")

// Config is the immutable configuration of an instance.
type Config struct {
	Name string

	BaseURLs []string
	Strategy loadbalancer.Algorithm

	URIEncoding     encoding.Encoding
	URIEncodingName string

	// ParsableContentTypes are lowercase content type prefixes.
	ParsableContentTypes []string

	MaxConnectionsPerHost int
	ConnectTimeout        time.Duration
	SocketTimeout         time.Duration
	Proxy                 *url.URL
	PreserveHost          bool

	DiscardRequestHeaders  []string
	ForwardRequestHeaders  []string
	DiscardResponseHeaders []string
	ForwardResponseHeaders []string
	DiscardCookies         []string
	ForwardCookies         []string

	FixResources   bool
	FixMode        render.FixMode
	VisibleURLBase string

	UseCache                 bool
	CacheStorage             string
	CacheStorageAddresses    []string
	MaxCacheEntries          int
	MaxObjectSize            int64
	XCacheHeader             bool
	TTL                      time.Duration
	HeuristicCaching         bool
	HeuristicCoefficient     float64
	HeuristicDefaultLifetime time.Duration
	StaleWhileRevalidate     time.Duration
	StaleIfError             time.Duration
	MinAsynchronousWorkers   int
	MaxAsynchronousWorkers   int
	WorkerIdleLifetime       time.Duration
	MaxUpdateRetries         int
	RevalidationQueueSize    int

	// Mappings are the raw URI mappings of the instance.
	Mappings []string

	FetchLogging     bool
	AddCharset       bool
	ForwardedHeaders bool

	DefaultCharset     encoding.Encoding
	DefaultCharsetName string

	AuthenticationHandler string
	RemoteUserHeader      string
	HtpasswdFile          string

	Breaker circuit.BreakerSettings
}

// properties reads typed values and keeps the first error
type properties struct {
	name  string
	props map[string]string
	err   error
}

func (p *properties) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s of instance %s: %q: %w", key, p.name, value, err)
	}
}

func (p *properties) str(key, def string) string {
	if v, ok := p.props[key]; ok {
		return strings.TrimSpace(v)
	}

	return def
}

func (p *properties) list(key, def string) []string {
	var l []string
	for s := range strings.SplitSeq(p.str(key, def), ",") {
		if s = strings.TrimSpace(s); s != "" {
			l = append(l, s)
		}
	}

	return l
}

func (p *properties) boolean(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}

	return b
}

func (p *properties) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}

	return i
}

func (p *properties) float(key string, def float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}

	return f
}

// duration reads an integer in unit, or a Go duration string
func (p *properties) duration(key string, unit, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}

	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(i) * unit
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}

	return d
}

func (p *properties) charset(key, def string) (encoding.Encoding, string) {
	name := p.str(key, def)
	e, err := htmlindex.Get(name)
	if err != nil {
		p.fail(key, name, err)
		return nil, ""
	}

	return e, name
}

// NewConfig creates the configuration of an instance from its
// properties. Missing properties take their default value.
func NewConfig(name string, props map[string]string) (*Config, error) {
	p := &properties{name: name, props: props}
	c := &Config{Name: name}

	c.BaseURLs = p.list(RemoteURLBase, "")
	if len(c.BaseURLs) == 0 {
		return nil, fmt.Errorf("%w for instance %s", ErrMissingBaseURL, name)
	}

	for _, b := range c.BaseURLs {
		if u, err := url.Parse(b); err != nil || !u.IsAbs() || u.Host == "" {
			return nil, fmt.Errorf("invalid %s of instance %s: %q", RemoteURLBase, name, b)
		}
	}

	if len(c.BaseURLs) == 1 {
		c.Strategy = loadbalancer.Single
	} else {
		s := strings.ToLower(p.str(RemoteURLBaseStrategy, "roundrobin"))
		a, err := loadbalancer.AlgorithmFromString(s)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", name, err)
		}

		c.Strategy = a
	}

	c.URIEncoding, c.URIEncodingName = p.charset(URIEncoding, defaultURIEncoding)
	for _, t := range p.list(ParsableContentTypes, defaultParsableContentTypes) {
		c.ParsableContentTypes = append(c.ParsableContentTypes, strings.ToLower(t))
	}

	c.MaxConnectionsPerHost = p.integer(MaxConnectionsPerHost, defaultMaxConnections)
	c.ConnectTimeout = p.duration(ConnectTimeout, time.Millisecond, defaultConnectTimeout)
	c.SocketTimeout = p.duration(SocketTimeout, time.Millisecond, defaultSocketTimeout)

	if host := p.str(ProxyHost, ""); host != "" {
		c.Proxy = &url.URL{Scheme: "http", Host: host}
		if port := p.str(ProxyPort, ""); port != "" {
			c.Proxy.Host = net.JoinHostPort(host, port)
		}

		if user := p.str(ProxyUser, ""); user != "" {
			c.Proxy.User = url.UserPassword(user, p.str(ProxyPassword, ""))
		}
	}

	c.PreserveHost = p.boolean(PreserveHost, false)
	c.DiscardRequestHeaders = p.list(DiscardRequestHeaders, "")
	c.ForwardRequestHeaders = p.list(ForwardRequestHeaders, "")
	c.DiscardResponseHeaders = p.list(DiscardResponseHeaders, "")
	c.ForwardResponseHeaders = p.list(ForwardResponseHeaders, "")
	c.DiscardCookies = p.list(DiscardCookies, "")
	c.ForwardCookies = p.list(ForwardCookies, "")

	c.FixResources = p.boolean(FixResources, false)
	fm, err := render.ParseFixMode(p.str(FixMode, ""))
	if err != nil {
		p.fail(FixMode, p.str(FixMode, ""), err)
	}

	c.FixMode = fm
	c.VisibleURLBase = p.str(VisibleURLBase, "")

	c.UseCache = p.boolean(UseCache, true)
	c.CacheStorage = strings.ToLower(p.str(CacheStorage, MemoryStorage))
	c.CacheStorageAddresses = p.list(CacheStorageAddresses, "")
	switch c.CacheStorage {
	case MemoryStorage:
	case RedisStorage, ValkeyStorage:
		if c.UseCache && len(c.CacheStorageAddresses) == 0 {
			return nil, fmt.Errorf("instance %s: %s storage requires %s", name, c.CacheStorage, CacheStorageAddresses)
		}
	default:
		return nil, fmt.Errorf("instance %s: unknown %s: %s", name, CacheStorage, c.CacheStorage)
	}

	c.MaxCacheEntries = p.integer(MaxCacheEntries, defaultMaxCacheEntries)
	c.MaxObjectSize = int64(p.integer(MaxObjectSize, defaultMaxObjectSize))
	c.XCacheHeader = p.boolean(XCacheHeader, false)
	c.TTL = p.duration(TTL, time.Second, 0)
	c.HeuristicCaching = p.boolean(HeuristicCachingEnabled, true)
	c.HeuristicCoefficient = p.float(HeuristicCoefficient, defaultHeuristicCoefficient)
	c.HeuristicDefaultLifetime = p.duration(HeuristicDefaultLifetimeSecs, time.Second, 0)
	c.StaleWhileRevalidate = p.duration(StaleWhileRevalidate, time.Second, 0)
	c.StaleIfError = p.duration(StaleIfError, time.Second, 0)
	c.MinAsynchronousWorkers = p.integer(MinAsynchronousWorkers, 0)
	c.MaxAsynchronousWorkers = p.integer(MaxAsynchronousWorkers, 0)
	c.WorkerIdleLifetime = p.duration(AsynchronousWorkerIdleLifetimeSecs, time.Second, defaultWorkerIdleLifetime)
	c.MaxUpdateRetries = p.integer(MaxUpdateRetries, defaultMaxUpdateRetries)
	c.RevalidationQueueSize = p.integer(RevalidationQueueSize, defaultRevalidationQueue)

	c.Mappings = p.list(Mappings, "")

	for _, e := range p.list(Extensions, "") {
		switch strings.ToLower(e) {
		case FetchLoggingExtension:
			c.FetchLogging = true
		case DefaultCharsetExtension:
			c.AddCharset = true
		case ForwardedHeadersExtension:
			c.ForwardedHeaders = true
		default:
			return nil, fmt.Errorf("instance %s: unknown extension: %s", name, e)
		}
	}

	c.DefaultCharset, c.DefaultCharsetName = p.charset(DefaultCharset, defaultURIEncoding)

	c.AuthenticationHandler = p.str(AuthenticationHandler, "none")
	c.RemoteUserHeader = p.str(RemoteUserHeader, "")
	c.HtpasswdFile = p.str(HtpasswdFile, "")

	c.Breaker = circuit.BreakerSettings{
		Failures: p.integer(BreakerFailures, 0),
		Timeout:  p.duration(BreakerTimeout, time.Second, defaultBreakerTimeout),
	}

	if p.err != nil {
		return nil, p.err
	}

	return c, nil
}

// Parsable tells whether a content type is processed by the renderers.
func (c *Config) Parsable(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, p := range c.ParsableContentTypes {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}

	return false
}

// VisibleBaseURL returns the base URL seen by the clients for a backend
// base URL.
func (c *Config) VisibleBaseURL(base string) string {
	if c.VisibleURLBase == "" {
		return base
	}

	return c.VisibleURLBase
}
