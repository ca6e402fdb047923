package fetch

import (
	"net/http"
	"strings"
)

var (
	defaultDiscardRequestHeaders = []string{
		"Authorization",
		"Connection",
		"Content-Length",
		"Cache-Control",
		"Cookie",
		"Expect",
		"Host",
		"Max-Forwards",
		"Pragma",
		"Proxy-Authorization",
		"TE",
		"Trailer",
		"Transfer-Encoding",
		"Upgrade",
	}

	defaultDiscardResponseHeaders = []string{
		"Connection",
		"Content-Length",
		"Content-MD5",
		"Date",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Set-Cookie",
		"Trailer",
		"Transfer-Encoding",
		"WWW-Authenticate",
	}
)

// HeaderOptions extend or override the default header lists.
type HeaderOptions struct {
	DiscardRequest  []string
	ForwardRequest  []string
	DiscardResponse []string
	ForwardResponse []string
}

// headerList contains the canonical names of the discarded headers
type headerList map[string]bool

func newHeaderList(defaults, discard, forward []string) headerList {
	l := make(headerList)
	for _, h := range defaults {
		l[http.CanonicalHeaderKey(h)] = true
	}

	for _, h := range discard {
		if h = strings.TrimSpace(h); h != "" {
			l[http.CanonicalHeaderKey(h)] = true
		}
	}

	for _, h := range forward {
		delete(l, http.CanonicalHeaderKey(strings.TrimSpace(h)))
	}

	return l
}

func (l headerList) discards(name string) bool {
	return l[http.CanonicalHeaderKey(name)]
}

// copy copies the allowed headers, except the ones listed in the
// Connection header of the source
func (l headerList) copy(dst, src http.Header) {
	var hop map[string]bool
	for _, c := range src.Values("Connection") {
		for h := range strings.SplitSeq(c, ",") {
			if h = strings.TrimSpace(h); h != "" {
				if hop == nil {
					hop = make(map[string]bool)
				}

				hop[http.CanonicalHeaderKey(h)] = true
			}
		}
	}

	for k, v := range src {
		ck := http.CanonicalHeaderKey(k)
		if l[ck] || hop[ck] {
			continue
		}

		dst[ck] = append(dst[ck], v...)
	}
}

// HeaderPolicy decides which headers are forwarded between the clients
// and the backends. The names are case-insensitive.
type HeaderPolicy struct {
	request  headerList
	response headerList
}

// NewHeaderPolicy creates a header policy from the default lists
// extended with the options.
func NewHeaderPolicy(o HeaderOptions) *HeaderPolicy {
	return &HeaderPolicy{
		request:  newHeaderList(defaultDiscardRequestHeaders, o.DiscardRequest, o.ForwardRequest),
		response: newHeaderList(defaultDiscardResponseHeaders, o.DiscardResponse, o.ForwardResponse),
	}
}

// ForwardRequestHeader tells whether an inbound header is sent to the
// backends.
func (p *HeaderPolicy) ForwardRequestHeader(name string) bool {
	return !p.request.discards(name)
}

// ForwardResponseHeader tells whether a backend response header is sent
// to the clients.
func (p *HeaderPolicy) ForwardResponseHeader(name string) bool {
	return !p.response.discards(name)
}

// CopyRequestHeaders copies the forwarded inbound headers.
func (p *HeaderPolicy) CopyRequestHeaders(dst, src http.Header) {
	p.request.copy(dst, src)
}

// CopyResponseHeaders copies the forwarded backend response headers.
func (p *HeaderPolicy) CopyResponseHeaders(dst, src http.Header) {
	p.response.copy(dst, src)
}
