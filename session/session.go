// Package session keeps the per client state of the gateway: the
// authenticated user, the cookies received from the backends and the
// backend chosen by the sticky session strategy.
package session

import (
	"net/http"
	"net/http/cookiejar"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// UserContext is the state of one client session. It is safe for
// concurrent use.
type UserContext struct {
	id string

	mu     sync.Mutex
	user   string
	sticky map[string]int
	attrs  map[string]any
	jar    http.CookieJar
}

// NewUserContext creates an empty session state with its own cookie jar.
func NewUserContext(id string) *UserContext {
	// cookiejar.New only fails on invalid options
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &UserContext{
		id:     id,
		jar:    jar,
		sticky: make(map[string]int),
		attrs:  make(map[string]any),
	}
}

// ID returns the session identifier, empty for request scoped contexts.
func (uc *UserContext) ID() string { return uc.id }

// Jar returns the cookie jar replaying the backend cookies of the session.
func (uc *UserContext) Jar() http.CookieJar { return uc.jar }

func (uc *UserContext) User() string {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.user
}

func (uc *UserContext) SetUser(user string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.user = user
}

// StickyIndex implements loadbalancer.StickyStore.
func (uc *UserContext) StickyIndex(key string) (int, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	i, ok := uc.sticky[key]
	return i, ok
}

// SetStickyIndex implements loadbalancer.StickyStore.
func (uc *UserContext) SetStickyIndex(key string, index int) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.sticky[key] = index
}

func (uc *UserContext) Attribute(key string) (any, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	v, ok := uc.attrs[key]
	return v, ok
}

func (uc *UserContext) SetAttribute(key string, value any) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.attrs[key] = value
}
