package resource

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/session"
)

// Renderer transforms the text of a page.
type Renderer func(rc *Context, in string) (string, error)

// Provider is a named backend instance that can render its pages.
type Provider interface {

	// Name returns the name of the instance.
	Name() string

	// Render fetches the page rc.RelURL as text and applies the
	// renderers in order.
	Render(rc *Context, renderers ...Renderer) (string, error)

	// BaseURL returns the backend base URL used for the fetch context.
	BaseURL(rc *Context) string

	// VisibleBaseURL returns the base URL as seen by the clients for a
	// backend base URL.
	VisibleBaseURL(base string) string
}

// ProviderLookup finds an instance by name.
type ProviderLookup func(name string) (Provider, bool)

// Request is the scope of one inbound request.
type Request struct {
	// Original is the inbound request.
	Original *http.Request

	// User is the session of the client. It can be nil when sessions
	// are disabled.
	User *session.UserContext

	// Providers finds the instances referenced by name in the
	// directives, e.g. $(PROVIDER{name}).
	Providers ProviderLookup

	// Log is the logger of the request.
	Log logging.Logger

	mu   sync.Mutex
	memo map[string]Page
}

// Page is a page fetched while serving a request, with the base URL
// of the backend that served it.
type Page struct {
	Text    string
	BaseURL string
}

// NewRequest creates the scope of an inbound request.
func NewRequest(r *http.Request, user *session.UserContext, providers ProviderLookup) *Request {
	return &Request{
		Original:  r,
		User:      user,
		Providers: providers,
		Log:       logging.New(),
	}
}

// Context returns the context of the inbound request.
func (r *Request) Context() context.Context {
	if r == nil || r.Original == nil {
		return context.Background()
	}

	return r.Original.Context()
}

// Provider finds an instance by name.
func (r *Request) Provider(name string) (Provider, bool) {
	if r == nil || r.Providers == nil {
		return nil, false
	}

	return r.Providers(name)
}

// Memo returns a page already fetched while serving this request.
func (r *Request) Memo(key string) (Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.memo[key]
	return p, ok
}

// SetMemo stores a fetched page for the rest of the request.
func (r *Request) SetMemo(key string, page Page) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memo == nil {
		r.memo = make(map[string]Page)
	}

	r.memo[key] = page
}

// Context describes the fetch of one resource.
type Context struct {
	// Request is the inbound request the fetch serves.
	Request *Request

	// Provider is the instance the resource is fetched from.
	Provider Provider

	// RelURL is the URL of the resource, relative to the base URL of
	// the provider, or absolute.
	RelURL string

	// Method is the HTTP method, GET when empty.
	Method string

	// Params are merged into the query of the outgoing request.
	Params url.Values

	// NoStore disables caching for this fetch.
	NoStore bool

	// TTL, when positive, forces the cache to keep the response for
	// this long.
	TTL time.Duration

	// MaxWait, when positive, bounds the duration of the fetch.
	MaxWait time.Duration

	// Proxy is set when the response is relayed to the client as it
	// is, instead of being included.
	Proxy bool

	// BaseURL is the backend base URL chosen for the fetch. It is set
	// when the outgoing request is created.
	BaseURL string
}

// NewContext creates a GET fetch context for a page of a provider.
func NewContext(r *Request, p Provider, relURL string) *Context {
	return &Context{Request: r, Provider: p, RelURL: relURL, Method: http.MethodGet}
}

// Context returns the context of the inbound request.
func (rc *Context) Context() context.Context {
	return rc.Request.Context()
}

// Original returns the inbound request, or nil.
func (rc *Context) Original() *http.Request {
	if rc == nil || rc.Request == nil {
		return nil
	}

	return rc.Request.Original
}

// Cacheable tells whether the response of the fetch can be cached.
func (rc *Context) Cacheable() bool {
	return !rc.NoStore && (rc.Method == "" || rc.Method == http.MethodGet)
}

// Log returns the logger of the request.
func (rc *Context) Log() logging.Logger {
	if rc == nil || rc.Request == nil || rc.Request.Log == nil {
		return logging.New()
	}

	return rc.Request.Log
}

// Chain applies the renderers to in, left to right.
func Chain(rc *Context, in string, renderers ...Renderer) (string, error) {
	var err error
	for _, r := range renderers {
		if r == nil {
			continue
		}

		if in, err = r(rc, in); err != nil {
			return "", err
		}
	}

	return in, nil
}
