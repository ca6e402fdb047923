package net

import (
	"net/http"
	"net/netip"
	"testing"
)

func TestRemoteAddr(t *testing.T) {
	for _, tt := range []struct {
		name   string
		input  string
		want   netip.Addr
		fwdHdr string
	}{
		{"no header1", "127.0.0.1", netip.MustParseAddr("127.0.0.1"), ""},
		{"no header2", "1.2.3.4", netip.MustParseAddr("1.2.3.4"), ""},
		{"no header3", "100.200.300.400", netip.Addr{}, ""},
		{"no header4", "127.0.0.1:8080", netip.MustParseAddr("127.0.0.1"), ""},
		{"single header1", "127.0.0.1", netip.MustParseAddr("172.16.0.1"), "172.16.0.1"},
		{"invalid header", "127.0.0.1", netip.MustParseAddr("127.0.0.1"), "invalid header"},
		{"multiple header1", "127.0.0.1", netip.MustParseAddr("172.16.0.1"), "172.16.0.1, 1.2.3.4, 8.7.6.5"},
		{"no header5", "2001:4860:0:2001::68", netip.MustParseAddr("2001:4860:0:2001::68"), ""},
		{"single header2", "127.0.0.1", netip.MustParseAddr("2001:4860:0:2001::68"), "2001:4860:0:2001::68"},
		{"header with port", "127.0.0.1", netip.MustParseAddr("172.16.0.1"), "172.16.0.1:4242, 1.2.3.4"},
		{"ipv6 with port", "[2001:4860:0:2001::68]:8080", netip.MustParseAddr("2001:4860:0:2001::68"), ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.input, Header: make(http.Header)}
			if tt.fwdHdr != "" {
				r.Header.Set("x-forwarded-for", tt.fwdHdr)
			}

			if got := RemoteAddr(r); got != tt.want {
				t.Errorf("Unexpected IP address '%v'. Wanted '%v'", got, tt.want)
			}
		})
	}
}
