/*
Package vars resolves the ESI variables of the form $(NAME) and
$(NAME{key}) against the inbound request.

Supported variables:

	HTTP_HOST                    the inbound Host
	HTTP_COOKIE{name}            the value of a cookie, or the raw Cookie header
	QUERY_STRING{param}          the first value of a query parameter, or the raw query
	HTTP_REFERER                 the Referer header
	HTTP_USER_AGENT{browser}     MSIE, MOZILLA or OTHER
	HTTP_USER_AGENT{os}          WIN, MAC, UNIX or OTHER
	HTTP_USER_AGENT{version}     the version of the browser
	HTTP_ACCEPT_LANGUAGE{lang}   true when lang is accepted, otherwise false
	HTTP_<HEADER>                any other request header, '_' standing for '-'

A default can follow the name: $(HTTP_COOKIE{group}|'guest'). The
PROVIDER variable is not resolved here, it selects the instance of an
include.
*/
package vars

import (
	"net/http"
	"regexp"
	"strings"
)

// Provider is the name of the variable selecting another instance in an
// include source.
const Provider = "PROVIDER"

var variableExp = regexp.MustCompile(`\$\(([A-Za-z_]+)(?:\{([^}]*)\})?(?:\|('[^']*'|[^)]*))?\)`)

// Resolve replaces every variable in s with its value for the request.
// Unknown or missing variables resolve to their default, or to the empty
// string. With a nil request only the defaults are used.
func Resolve(s string, r *http.Request) string {
	if !strings.Contains(s, "$(") {
		return s
	}

	return variableExp.ReplaceAllStringFunc(s, func(m string) string {
		sm := variableExp.FindStringSubmatch(m)
		name, key, def := sm[1], sm[2], sm[3]
		if name == Provider {
			return m
		}

		if v, ok := Value(r, name, key); ok && v != "" {
			return v
		}

		return unquote(def)
	})
}

// Value returns the value of a single variable.
func Value(r *http.Request, name, key string) (string, bool) {
	if r == nil {
		return "", false
	}

	switch name {
	case "HTTP_HOST":
		return r.Host, r.Host != ""
	case "HTTP_COOKIE":
		if key == "" {
			h := r.Header.Get("Cookie")
			return h, h != ""
		}

		c, err := r.Cookie(key)
		if err != nil {
			return "", false
		}

		return c.Value, true
	case "QUERY_STRING":
		if r.URL == nil {
			return "", false
		}

		if key == "" {
			return r.URL.RawQuery, r.URL.RawQuery != ""
		}

		q := r.URL.Query()
		if !q.Has(key) {
			return "", false
		}

		return q.Get(key), true
	case "HTTP_USER_AGENT":
		ua := r.UserAgent()
		switch key {
		case "":
			return ua, ua != ""
		case "browser":
			return Browser(ua), true
		case "os":
			return OS(ua), true
		case "version":
			return BrowserVersion(ua), true
		default:
			return "", false
		}
	case "HTTP_ACCEPT_LANGUAGE":
		al := r.Header.Get("Accept-Language")
		if key == "" {
			return al, al != ""
		}

		if AcceptsLanguage(al, key) {
			return "true", true
		}

		return "false", true
	}

	if h, ok := strings.CutPrefix(name, "HTTP_"); ok && h != "" {
		v := r.Header.Get(strings.ReplaceAll(h, "_", "-"))
		return v, v != ""
	}

	return "", false
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}

	return s
}

// AcceptsLanguage tells whether the Accept-Language header value lists
// lang, ignoring case and quality values.
func AcceptsLanguage(header, lang string) bool {
	for l := range strings.SplitSeq(header, ",") {
		l, _, _ = strings.Cut(l, ";")
		if strings.EqualFold(strings.TrimSpace(l), lang) {
			return true
		}
	}

	return false
}

// Browser classifies the user agent as MSIE, MOZILLA or OTHER.
func Browser(ua string) string {
	l := strings.ToLower(ua)
	switch {
	case strings.Contains(l, "msie") || strings.Contains(l, "trident/"):
		return "MSIE"
	case strings.Contains(l, "mozilla"):
		return "MOZILLA"
	default:
		return "OTHER"
	}
}

// OS classifies the operating system of the user agent as WIN, MAC,
// UNIX or OTHER.
func OS(ua string) string {
	l := strings.ToLower(ua)
	switch {
	case strings.Contains(l, "windows") || strings.Contains(l, "win32") || strings.Contains(l, "win64"):
		return "WIN"
	case strings.Contains(l, "mac"):
		return "MAC"
	case strings.Contains(l, "linux") || strings.Contains(l, "x11") || strings.Contains(l, "bsd") || strings.Contains(l, "sunos"):
		return "UNIX"
	default:
		return "OTHER"
	}
}

var (
	msieVersion    = regexp.MustCompile(`(?i)msie ([0-9][0-9.]*)`)
	tridentVersion = regexp.MustCompile(`(?i)rv:([0-9][0-9.]*)`)
	productVersion = regexp.MustCompile(`^[^/ ]+/([0-9][0-9.]*)`)
)

// BrowserVersion returns the version of the browser: the MSIE version for
// Internet Explorer, otherwise the version of the leading product token.
func BrowserVersion(ua string) string {
	if m := msieVersion.FindStringSubmatch(ua); m != nil {
		return m[1]
	}

	if strings.Contains(strings.ToLower(ua), "trident/") {
		if m := tridentVersion.FindStringSubmatch(ua); m != nil {
			return m[1]
		}
	}

	if m := productVersion.FindStringSubmatch(ua); m != nil {
		return m[1]
	}

	return ""
}
