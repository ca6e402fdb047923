package net

import (
	"net"
	"net/http"
)

// ForwardedHeaders sets the non-standard X-Forwarded-* headers of a
// backend request from the inbound request it was made for.
// See https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers#proxies
type ForwardedHeaders struct {
	// Appends the inbound remote IP to the X-Forwarded-For header
	For bool
	// Sets X-Forwarded-Host to the inbound host
	Host bool
	// Sets X-Forwarded-Proto to the inbound scheme
	Proto bool
}

// AllForwardedHeaders enables every X-Forwarded-* header.
var AllForwardedHeaders = ForwardedHeaders{For: true, Host: true, Proto: true}

// Set sets the headers on the outgoing request out. An X-Forwarded-For
// chain already present on the inbound request is kept.
func (h *ForwardedHeaders) Set(out, in *http.Request) {
	if in == nil {
		return
	}

	if h.For {
		v := in.Header.Get("X-Forwarded-For")
		if in.RemoteAddr != "" {
			addr := in.RemoteAddr
			if host, _, err := net.SplitHostPort(addr); err == nil {
				addr = host
			}

			if v == "" {
				v = addr
			} else {
				v = v + ", " + addr
			}
		}

		if v != "" {
			out.Header.Set("X-Forwarded-For", v)
		}
	}

	if h.Host && in.Host != "" {
		out.Header.Set("X-Forwarded-Host", in.Host)
	}

	if h.Proto {
		proto := in.Header.Get("X-Forwarded-Proto")
		if proto == "" {
			proto = "http"
			if in.TLS != nil {
				proto = "https"
			}
		}

		out.Header.Set("X-Forwarded-Proto", proto)
	}
}
