package registry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMapping(t *testing.T) {
	for _, tt := range []struct {
		mapping string
		expect  UriMapping
	}{
		{"*", UriMapping{}},
		{"/shop/*", UriMapping{Path: "/shop/"}},
		{"/shop", UriMapping{Path: "/shop"}},
		{"*.jsp", UriMapping{Extension: ".jsp"}},
		{"/app/*.HTML", UriMapping{Path: "/app/", Extension: ".html"}},
		{"http://www.example.org", UriMapping{Scheme: "http", Host: "www.example.org"}},
		{"http://www.example.org:80/", UriMapping{Scheme: "http", Host: "www.example.org", Path: "/"}},
		{"HTTPS://WWW.example.org:8443/app/*", UriMapping{Scheme: "https", Host: "www.example.org:8443", Path: "/app/"}},
		{"http://www.example.org*.gif", UriMapping{Scheme: "http", Host: "www.example.org", Extension: ".gif"}},
	} {
		t.Run(tt.mapping, func(t *testing.T) {
			m, err := ParseMapping(tt.mapping)
			require.NoError(t, err)
			if d := cmp.Diff(tt.expect, *m); d != "" {
				t.Errorf("unexpected mapping (-want +got):\n%s", d)
			}
		})
	}
}

func TestParseMappingErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"ftp://files.example.org/",
		"http:///path",
		"shop/*",
		"/a/*/b",
		"/a/*.x/y",
	} {
		_, err := ParseMapping(s)
		assert.Error(t, err, s)
	}
}

func TestMappingMatches(t *testing.T) {
	for _, tt := range []struct {
		mapping string
		scheme  string
		host    string
		path    string
		expect  bool
	}{
		{"*", "http", "any", "/", true},
		{"/shop/*", "http", "any", "/shop/cart", true},
		{"/shop/*", "http", "any", "/shopping", false},
		{"/shop/*", "http", "any", "", false},
		{"/", "https", "any", "", true},
		{"*.jsp", "http", "any", "/a/index.JSP", true},
		{"*.jsp", "http", "any", "/a/index.html", false},
		{"http://www.example.org/", "http", "www.example.org:80", "/x", true},
		{"http://www.example.org/", "http", "WWW.EXAMPLE.ORG", "/x", true},
		{"http://www.example.org/", "https", "www.example.org", "/x", false},
		{"http://www.example.org/", "http", "example.org", "/x", false},
		{"https://www.example.org:8443/app/*.html", "https", "www.example.org:8443", "/app/a.html", true},
		{"https://www.example.org:8443/app/*.html", "https", "www.example.org", "/app/a.html", false},
	} {
		m, err := ParseMapping(tt.mapping)
		require.NoError(t, err)
		assert.Equal(t, tt.expect, m.Matches(tt.scheme, tt.host, tt.path), "%s %s://%s%s", tt.mapping, tt.scheme, tt.host, tt.path)
	}
}

func TestMappingWeight(t *testing.T) {
	weight := func(s string) int {
		m, err := ParseMapping(s)
		require.NoError(t, err)
		return m.Weight()
	}

	assert.Greater(t, weight("http://www.example.org"), weight("/a/very/long/path/prefix/"))
	assert.Greater(t, weight("/shop/cart/"), weight("/shop/"))
	assert.Greater(t, weight("/shop/*.jsp"), weight("/shop/"))
	assert.Greater(t, weight("*.jsp"), weight("*"))
}

func TestMappingString(t *testing.T) {
	for _, s := range []string{"*", "/shop/", "*.jsp", "http://www.example.org/app/*.html"} {
		m, err := ParseMapping(s)
		require.NoError(t, err)
		assert.Equal(t, s, m.String())
	}
}
