// Package net contains the network helpers of the gateway: the outbound
// transport, inbound host and client address handling, and the Redis and
// Valkey clients backing the shared cache storages.
package net

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

func parseHost(address string) (netip.Addr, error) {
	if h, _, err := net.SplitHostPort(address); err == nil {
		address = h
	}

	return netip.ParseAddr(strings.TrimSpace(address))
}

// RemoteAddr returns the address of the client. The first entry of the
// X-Forwarded-For header takes precedence over the address of the
// connection, when it is a valid IP address. The zero address is returned
// when neither is valid.
func RemoteAddr(r *http.Request) netip.Addr {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); first != "" {
		if a, err := parseHost(first); err == nil {
			return a
		}
	}

	a, _ := parseHost(r.RemoteAddr)
	return a
}
