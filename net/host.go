package net

import (
	"net"
	"net/http"
	"strings"
)

// HostPatch normalizes an inbound host[:port] before the instance
// mapping sees it.
type HostPatch struct {
	// Remove port if present
	RemovePort bool

	// Remove trailing dot if present
	RemoveTrailingDot bool

	// Convert to lowercase
	ToLower bool
}

func splitHostPort(hostport string) (host, port string) {
	host = hostport

	// avoid net.SplitHostPort for value without port
	if strings.IndexByte(hostport, ':') != -1 {
		if sh, sp, err := net.SplitHostPort(hostport); err == nil {
			host, port = sh, sp
		}
	}

	return
}

func (h *HostPatch) Apply(original string) string {
	host, port := splitHostPort(original)
	if h.RemovePort {
		port = ""
	}

	if h.RemoveTrailingDot {
		host = strings.TrimSuffix(host, ".")
	}

	if h.ToLower {
		host = strings.ToLower(host)
	}

	if port != "" {
		return net.JoinHostPort(host, port)
	}

	return host
}

type HostPatchHandler struct {
	Patch   HostPatch
	Handler http.Handler
}

func (h *HostPatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Host = h.Patch.Apply(r.Host)
	h.Handler.ServeHTTP(w, r)
}

// DefaultPort returns the default port of http and https, or an empty
// string for other schemes.
func DefaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// StripDefaultPort removes the port from hostport when it is the default
// port of scheme. It is used when the inbound Host header is sent to the
// backends.
func StripDefaultPort(hostport, scheme string) string {
	host, port := splitHostPort(hostport)
	if port == "" || port != DefaultPort(scheme) {
		return hostport
	}

	if strings.IndexByte(host, ':') != -1 {
		return "[" + host + "]"
	}

	return host
}
