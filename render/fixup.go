package render

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/FMHsieh/esigate/resource"
)

// FixMode tells how the rewritten URLs are written.
type FixMode int

const (
	// Relative rewrites the URLs to paths of the visible base URL.
	Relative FixMode = iota

	// Absolute rewrites the URLs to full visible URLs.
	Absolute
)

func (m FixMode) String() string {
	if m == Absolute {
		return "absolute"
	}

	return "relative"
}

// ParseFixMode parses the fixMode property.
func ParseFixMode(s string) (FixMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "relative":
		return Relative, nil
	case "absolute":
		return Absolute, nil
	default:
		return Relative, fmt.Errorf("invalid fix mode: %s", s)
	}
}

var (
	urlAttributeExp = regexp.MustCompile(`(?i)(\s)(src|href|action|background)(\s*=\s*)("[^"]*"|'[^']*')`)
	cdataExp        = regexp.MustCompile(`(?s)<!\[CDATA\[.*?\]\]>`)
)

// URLRewriter rewrites the URLs pointing to a backend into URLs of the
// gateway.
type URLRewriter struct {
	visibleBaseURL string
	mode           FixMode
}

// NewURLRewriter creates a rewriter. An empty visible base URL means
// that the backend base URL is visible.
func NewURLRewriter(visibleBaseURL string, mode FixMode) *URLRewriter {
	return &URLRewriter{visibleBaseURL: visibleBaseURL, mode: mode}
}

// Fixup returns a renderer rewriting the URLs of the fetched page, using
// the page URL and the base URL of the fetch context.
func Fixup(u *URLRewriter) resource.Renderer {
	return func(rc *resource.Context, in string) (string, error) {
		if rc == nil {
			return in, nil
		}

		return u.RewriteHTML(in, rc.RelURL, rc.BaseURL), nil
	}
}

// RewriteHTML rewrites the src, href, action and background attributes
// of an HTML page, except in the CDATA sections. requestURL is the URL of
// the page, relative to baseURL. When it is empty, the page is returned
// unchanged.
func (u *URLRewriter) RewriteHTML(input, requestURL, baseURL string) string {
	if requestURL == "" || input == "" {
		return input
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return input
	}

	visible := base
	if u.visibleBaseURL != "" && u.visibleBaseURL != baseURL {
		if visible, err = url.Parse(u.visibleBaseURL); err != nil {
			return input
		}
	}

	page, err := base.Parse(pageURL(requestURL, baseURL))
	if err != nil {
		return input
	}

	r := &rewrite{base: base, visible: visible, page: page, mode: u.mode}

	var (
		b    strings.Builder
		last int
	)

	for _, m := range cdataExp.FindAllStringIndex(input, -1) {
		b.WriteString(r.attributes(input[last:m[0]]))
		b.WriteString(input[m[0]:m[1]])
		last = m[1]
	}

	b.WriteString(r.attributes(input[last:]))
	return b.String()
}

// RewriteURL rewrites a single URL found in a page.
func (u *URLRewriter) RewriteURL(s, requestURL, baseURL string) string {
	out := u.RewriteHTML(` src="`+s+`"`, requestURL, baseURL)
	return strings.TrimSuffix(strings.TrimPrefix(out, ` src="`), `"`)
}

// the request URL is relative to the base URL even when it starts with /
func pageURL(requestURL, baseURL string) string {
	if strings.Contains(requestURL, "://") {
		return requestURL
	}

	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(requestURL, "/")
}

type rewrite struct {
	base, visible, page *url.URL
	mode                FixMode
}

func (r *rewrite) attributes(s string) string {
	return urlAttributeExp.ReplaceAllStringFunc(s, func(m string) string {
		sm := urlAttributeExp.FindStringSubmatch(m)
		quoted := sm[4]
		q, value := quoted[:1], quoted[1:len(quoted)-1]
		return sm[1] + sm[2] + sm[3] + q + r.url(value) + q
	})
}

func (r *rewrite) url(s string) string {
	if s == "" || strings.HasPrefix(s, "#") || strings.HasPrefix(s, "//") {
		return s
	}

	ref, err := url.Parse(s)
	if err != nil || ref.Opaque != "" {
		return s
	}

	if ref.Scheme != "" && (!strings.EqualFold(ref.Scheme, r.base.Scheme) || !strings.EqualFold(ref.Host, r.base.Host)) {
		return s
	}

	abs := r.page.ResolveReference(ref)
	basePath := withSlash(r.base.Path)
	p := abs.Path
	switch {
	case withSlash(p) == basePath:
		p = withSlash(r.visible.Path)
	case strings.HasPrefix(p, basePath):
		p = withSlash(r.visible.Path) + p[len(basePath):]
	case ref.Scheme != "":
		return s
	}

	out := &url.URL{Path: p, RawQuery: abs.RawQuery, Fragment: abs.Fragment}
	if r.mode == Absolute {
		out.Scheme = r.visible.Scheme
		out.Host = r.visible.Host
	}

	return out.String()
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}

	return p + "/"
}

// CleanUpPath removes the dot segments of a URL or a path. When the ".."
// segments cannot be all resolved, the input is returned unchanged.
//
//	path/to/../page                => path/page
//	http://host/path/to/../../page => http://host/page
//	path/../../page                => path/../../page
func CleanUpPath(s string) string {
	result := s
	for strings.HasPrefix(result, "./") {
		result = result[2:]
	}

	for strings.Contains(result, "/./") {
		result = strings.ReplaceAll(result, "/./", "/")
	}

	for from := 0; ; {
		i := strings.Index(result[from:], "/../")
		if i < 0 {
			break
		}

		i += from
		start := strings.LastIndexByte(result[:i], '/') + 1
		segment := result[start:i]
		if segment == "" || segment == ".." {
			from = i + 1
			continue
		}

		result = result[:start] + result[i+4:]
		from = 0
	}

	if result == ".." || strings.HasPrefix(result, "../") || strings.Contains(result, "/../") || strings.HasSuffix(result, "/..") {
		return s
	}

	return result
}
