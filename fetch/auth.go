package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	auth "github.com/abbot/go-http-auth"

	"github.com/FMHsieh/esigate/resource"
)

const (
	// DefaultRemoteUserHeader is the header carrying the user to the
	// backends.
	DefaultRemoteUserHeader = "X_REMOTE_USER"

	// DefaultRealm is the realm of the basic authentication.
	DefaultRealm = "esigate"
)

var errMissingHtpasswd = errors.New("basic authentication requires an htpasswd file")

// AuthenticationHandler decorates the backend calls of an instance.
type AuthenticationHandler interface {

	// BeforeProxy is called before a request is proxied. When it
	// returns false, the handler has written the response and the
	// request is not proxied.
	BeforeProxy(w http.ResponseWriter, rc *resource.Context) bool

	// PreRequest is called on every outgoing request.
	PreRequest(req *http.Request, rc *resource.Context)

	// NeedsNewRequest tells whether the request must be issued again,
	// e.g. after a login. The response is released by the client.
	NeedsNewRequest(rsp *http.Response, req *http.Request, rc *resource.Context) bool
}

// AuthOptions configure the authentication handlers.
type AuthOptions struct {
	// RemoteUserHeader is the header carrying the user, defaults to
	// DefaultRemoteUserHeader.
	RemoteUserHeader string

	// HtpasswdFile is the user file of the basic authentication.
	HtpasswdFile string

	// Realm is the realm of the basic authentication.
	Realm string
}

// NewAuthenticationHandler creates a handler by name: none, remoteuser or
// basic.
func NewAuthenticationHandler(name string, o AuthOptions) (AuthenticationHandler, error) {
	if o.RemoteUserHeader == "" {
		o.RemoteUserHeader = DefaultRemoteUserHeader
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return NoAuth{}, nil
	case "remoteuser":
		return &RemoteUser{Header: o.RemoteUserHeader}, nil
	case "basic":
		return NewBasicAuth(o)
	default:
		return nil, fmt.Errorf("unknown authentication handler: %s", name)
	}
}

// NoAuth passes the requests unchanged.
type NoAuth struct{}

func (NoAuth) BeforeProxy(http.ResponseWriter, *resource.Context) bool { return true }
func (NoAuth) PreRequest(*http.Request, *resource.Context)             {}

func (NoAuth) NeedsNewRequest(*http.Response, *http.Request, *resource.Context) bool {
	return false
}

// RemoteUser sends the user of the session, or the user of the inbound
// basic authorization, in a header.
type RemoteUser struct {
	Header string
}

func (*RemoteUser) BeforeProxy(http.ResponseWriter, *resource.Context) bool { return true }

func (*RemoteUser) NeedsNewRequest(*http.Response, *http.Request, *resource.Context) bool {
	return false
}

func (h *RemoteUser) PreRequest(req *http.Request, rc *resource.Context) {
	if user := remoteUser(rc); user != "" {
		setRawHeader(req.Header, h.Header, user)
	}
}

func remoteUser(rc *resource.Context) string {
	if rc.Request != nil && rc.Request.User != nil {
		if u := rc.Request.User.User(); u != "" {
			return u
		}
	}

	if r := rc.Original(); r != nil {
		u, _, _ := r.BasicAuth()
		return u
	}

	return ""
}

// the name is kept as configured, X_REMOTE_USER is not a canonical header
// name
func setRawHeader(h http.Header, name, value string) {
	for k := range h {
		if strings.EqualFold(k, name) {
			delete(h, k)
		}
	}

	h[name] = []string{value}
}

// BasicAuth checks the inbound credentials against an htpasswd file
// before proxying, and sends the user to the backends like RemoteUser.
type BasicAuth struct {
	RemoteUser
	authenticator *auth.BasicAuth
}

// NewBasicAuth creates a basic authentication handler.
func NewBasicAuth(o AuthOptions) (*BasicAuth, error) {
	if o.HtpasswdFile == "" {
		return nil, errMissingHtpasswd
	}

	if _, err := os.Stat(o.HtpasswdFile); err != nil {
		return nil, fmt.Errorf("stat failed for %q: %w", o.HtpasswdFile, err)
	}

	if o.Realm == "" {
		o.Realm = DefaultRealm
	}

	if o.RemoteUserHeader == "" {
		o.RemoteUserHeader = DefaultRemoteUserHeader
	}

	return &BasicAuth{
		RemoteUser:    RemoteUser{Header: o.RemoteUserHeader},
		authenticator: auth.NewBasicAuthenticator(o.Realm, auth.HtpasswdFileProvider(o.HtpasswdFile)),
	}, nil
}

// BeforeProxy requires valid credentials, and stores the user in the
// session.
func (h *BasicAuth) BeforeProxy(w http.ResponseWriter, rc *resource.Context) bool {
	r := rc.Original()
	if r == nil {
		return false
	}

	user := h.authenticator.CheckAuth(r)
	if user == "" {
		h.authenticator.RequireAuth(w, r)
		return false
	}

	if rc.Request.User != nil {
		rc.Request.User.SetUser(user)
	}

	return true
}

// PreRequest sends only the users with valid credentials.
func (h *BasicAuth) PreRequest(req *http.Request, rc *resource.Context) {
	if r := rc.Original(); r != nil && h.authenticator.CheckAuth(r) != "" {
		h.RemoteUser.PreRequest(req, rc)
	}
}
