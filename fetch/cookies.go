package fetch

import (
	"net/http"
	"strings"
)

const allCookies = "*"

// CookiePolicy decides which cookies are exchanged with the backends.
// The inbound cookies listed as forwarded are sent to the backends, and
// the backend cookies listed as forwarded are returned to the clients in
// proxy mode. The other backend cookies are kept in the session of the
// client and replayed on the next backend calls. The discarded cookies
// are neither forwarded nor kept.
type CookiePolicy struct {
	forward    map[string]bool
	forwardAll bool
	discard    map[string]bool
}

func nameSet(names []string) map[string]bool {
	s := make(map[string]bool)
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s[n] = true
		}
	}

	return s
}

// NewCookiePolicy creates a cookie policy. A forwarded name "*" forwards
// every cookie that is not discarded.
func NewCookiePolicy(forward, discard []string) *CookiePolicy {
	p := &CookiePolicy{forward: nameSet(forward), discard: nameSet(discard)}
	p.forwardAll = p.forward[allCookies]
	return p
}

// Forwarded tells whether a cookie is passed through between the
// clients and the backends.
func (p *CookiePolicy) Forwarded(name string) bool {
	return !p.discard[name] && (p.forwardAll || p.forward[name])
}

// Discarded tells whether a cookie is dropped.
func (p *CookiePolicy) Discarded(name string) bool {
	return p.discard[name]
}

// addRequestCookies adds the forwarded inbound cookies and the cookies of
// the session to the outgoing request.
func (p *CookiePolicy) addRequestCookies(out, in *http.Request, jar http.CookieJar) {
	sent := make(map[string]bool)
	if in != nil {
		for _, c := range in.Cookies() {
			if p.Forwarded(c.Name) {
				out.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
				sent[c.Name] = true
			}
		}
	}

	if jar == nil {
		return
	}

	for _, c := range jar.Cookies(out.URL) {
		if !sent[c.Name] && !p.discard[c.Name] {
			out.AddCookie(c)
		}
	}
}

// receive stores the backend cookies in the jar, and returns the ones to
// be passed to the client.
func (p *CookiePolicy) receive(rsp *http.Response, jar http.CookieJar, proxy bool) []*http.Cookie {
	var keep, forward []*http.Cookie
	for _, c := range rsp.Cookies() {
		switch {
		case p.discard[c.Name]:
		case proxy && p.Forwarded(c.Name):
			// the cookie applies to the gateway instead of the backend
			c.Domain = ""
			forward = append(forward, c)
		default:
			keep = append(keep, c)
		}
	}

	if jar != nil && len(keep) > 0 && rsp.Request != nil {
		jar.SetCookies(rsp.Request.URL, keep)
	}

	return forward
}
