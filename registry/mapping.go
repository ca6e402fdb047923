package registry

import (
	"fmt"
	"strings"

	"github.com/FMHsieh/esigate/net"
)

const (
	hostWeight      = 1 << 20
	extensionWeight = 1
)

// UriMapping selects the requests served by an instance. The mapping
// syntax is:
//
//	[scheme://host[:port]][/path][*.ext]
//
// e.g. "/shop/*", "*.jsp", "https://www.example.org/app/*.html" or "*"
// matching every request. The path is a prefix.
type UriMapping struct {
	Scheme    string
	Host      string
	Path      string
	Extension string
}

// ParseMapping parses a mapping.
func ParseMapping(s string) (*UriMapping, error) {
	s = strings.TrimSpace(s)
	m := &UriMapping{}
	if s == "" {
		return nil, fmt.Errorf("empty mapping")
	}

	if s == "*" {
		return m, nil
	}

	rest := s
	if i := strings.Index(rest, "://"); i >= 0 {
		m.Scheme = strings.ToLower(rest[:i])
		if m.Scheme != "http" && m.Scheme != "https" {
			return nil, fmt.Errorf("invalid mapping scheme: %s", s)
		}

		rest = rest[i+3:]
		hostEnd := strings.IndexByte(rest, '/')
		if hostEnd < 0 {
			hostEnd = len(rest)
		}

		if j := strings.Index(rest[:hostEnd], "*"); j >= 0 {
			hostEnd = j
		}

		m.Host = net.StripDefaultPort(strings.ToLower(rest[:hostEnd]), m.Scheme)
		rest = rest[hostEnd:]
		if m.Host == "" {
			return nil, fmt.Errorf("missing mapping host: %s", s)
		}
	}

	if i := strings.LastIndex(rest, "*."); i >= 0 {
		m.Extension = strings.ToLower(rest[i+1:])
		rest = rest[:i]
		if strings.ContainsAny(m.Extension, "/*") {
			return nil, fmt.Errorf("invalid mapping extension: %s", s)
		}
	}

	rest = strings.TrimSuffix(rest, "*")
	if strings.Contains(rest, "*") {
		return nil, fmt.Errorf("invalid mapping wildcard: %s", s)
	}

	if rest != "" && !strings.HasPrefix(rest, "/") {
		return nil, fmt.Errorf("invalid mapping path: %s", s)
	}

	m.Path = rest
	return m, nil
}

// Weight orders the matching mappings, the most specific first: the
// mappings with a host, then the longest paths, then the ones with an
// extension.
func (m *UriMapping) Weight() int {
	w := len(m.Path) * 10
	if m.Host != "" {
		w += hostWeight
	}

	if m.Extension != "" {
		w += extensionWeight
	}

	return w
}

// Matches tells whether a request falls under the mapping. The host is
// compared without its default port and the extension case-insensitively.
func (m *UriMapping) Matches(scheme, host, path string) bool {
	scheme = strings.ToLower(scheme)
	if m.Scheme != "" && m.Scheme != scheme {
		return false
	}

	if m.Host != "" && m.Host != net.StripDefaultPort(strings.ToLower(host), scheme) {
		return false
	}

	if path == "" {
		path = "/"
	}

	if m.Path != "" && !strings.HasPrefix(path, m.Path) {
		return false
	}

	return m.Extension == "" || strings.HasSuffix(strings.ToLower(path), m.Extension)
}

func (m *UriMapping) String() string {
	var b strings.Builder
	if m.Host != "" {
		b.WriteString(m.Scheme)
		b.WriteString("://")
		b.WriteString(m.Host)
	}

	b.WriteString(m.Path)
	if m.Extension != "" {
		b.WriteString("*")
		b.WriteString(m.Extension)
	}

	if b.Len() == 0 {
		return "*"
	}

	return b.String()
}
