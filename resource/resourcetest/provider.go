// Package resourcetest provides an in-memory resource.Provider for the
// tests of the rendering packages.
package resourcetest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/FMHsieh/esigate/resource"
)

// Provider serves pages from memory.
type Provider struct {
	name    string
	base    string
	visible string

	mu     sync.Mutex
	pages  map[string]string
	errors map[string]*resource.ErrorPage
	calls  []string
	last   *resource.Context
}

// NewProvider creates a provider with the base URL http://<name>/.
func NewProvider(name string) *Provider {
	return &Provider{
		name:   name,
		base:   "http://" + name + "/",
		pages:  make(map[string]string),
		errors: make(map[string]*resource.ErrorPage),
	}
}

// AddPage registers a page by its relative or absolute URL.
func (p *Provider) AddPage(relURL, content string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[relURL] = content
	return p
}

// AddError makes the fetch of a page fail with the status code.
func (p *Provider) AddError(relURL string, code int) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors[relURL] = resource.NewErrorPage(code, "", nil)
	return p
}

// SetVisibleBaseURL sets the base URL as seen by the clients.
func (p *Provider) SetVisibleBaseURL(u string) *Provider {
	p.visible = u
	return p
}

// Calls returns the fetched URLs, in order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// LastContext returns the fetch context of the last call.
func (p *Provider) LastContext() *resource.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) BaseURL(*resource.Context) string { return p.base }

func (p *Provider) VisibleBaseURL(base string) string {
	if p.visible != "" {
		return p.visible
	}

	return base
}

// Render serves the page registered for rc.RelURL, or fails with 404.
func (p *Provider) Render(rc *resource.Context, renderers ...resource.Renderer) (string, error) {
	rel := strings.TrimPrefix(rc.RelURL, strings.TrimSuffix(p.base, "/"))

	p.mu.Lock()
	p.calls = append(p.calls, rel)
	p.last = rc
	page, ok := p.pages[rel]
	ep := p.errors[rel]
	p.mu.Unlock()

	if ep != nil {
		return "", ep
	}

	if !ok {
		return "", resource.NewErrorPage(http.StatusNotFound, "", nil)
	}

	rc.BaseURL = p.base
	return resource.Chain(rc, page, renderers...)
}

// NewRequest creates a request scope for an inbound request to u, where
// the providers can be found by name.
func NewRequest(u string, providers ...resource.Provider) *resource.Request {
	return resource.NewRequest(httptest.NewRequest("GET", u, nil), nil, Lookup(providers...))
}

// NewContext creates the fetch context of a page served by the first
// provider.
func NewContext(r *resource.Request, p resource.Provider, relURL string) *resource.Context {
	return resource.NewContext(r, p, relURL)
}

// Lookup creates a provider lookup.
func Lookup(providers ...resource.Provider) resource.ProviderLookup {
	m := make(map[string]resource.Provider)
	for _, p := range providers {
		m[p.Name()] = p
	}

	return func(name string) (resource.Provider, bool) {
		p, ok := m[name]
		return p, ok
	}
}
