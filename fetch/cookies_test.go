package fetch

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FMHsieh/esigate/session"
)

func TestCookiePolicy(t *testing.T) {
	p := NewCookiePolicy([]string{"JSESSIONID", " lang "}, []string{"secret"})
	assert.True(t, p.Forwarded("JSESSIONID"))
	assert.True(t, p.Forwarded("lang"))
	assert.False(t, p.Forwarded("other"))
	assert.False(t, p.Forwarded("secret"))
	assert.True(t, p.Discarded("secret"))

	all := NewCookiePolicy([]string{"*"}, []string{"secret"})
	assert.True(t, all.Forwarded("other"))
	assert.False(t, all.Forwarded("secret"))
}

func TestRequestCookies(t *testing.T) {
	p := NewCookiePolicy([]string{"lang", "shared"}, []string{"secret"})
	uc := session.NewUserContext("id")

	u, err := url.Parse("http://backend.example.org/page")
	require.NoError(t, err)

	uc.Jar().SetCookies(u, []*http.Cookie{
		{Name: "backend", Value: "1"},
		{Name: "shared", Value: "jar"},
		{Name: "secret", Value: "1"},
	})

	in := httptest.NewRequest("GET", "http://www.example.org/page", nil)
	in.AddCookie(&http.Cookie{Name: "lang", Value: "en"})
	in.AddCookie(&http.Cookie{Name: "shared", Value: "client"})
	in.AddCookie(&http.Cookie{Name: "tracking", Value: "1"})

	out, err := http.NewRequest("GET", u.String(), nil)
	require.NoError(t, err)
	p.addRequestCookies(out, in, uc.Jar())

	got := make(map[string]string)
	for _, c := range out.Cookies() {
		got[c.Name] = c.Value
	}

	assert.Equal(t, map[string]string{"lang": "en", "shared": "client", "backend": "1"}, got)
}

func TestReceiveCookies(t *testing.T) {
	p := NewCookiePolicy([]string{"JSESSIONID"}, []string{"secret"})
	uc := session.NewUserContext("id")

	req, err := http.NewRequest("GET", "http://backend.example.org/page", nil)
	require.NoError(t, err)

	newResponse := func() *http.Response {
		return &http.Response{
			Header: http.Header{"Set-Cookie": []string{
				"JSESSIONID=abc; Domain=backend.example.org; Path=/",
				"backend=1; Path=/",
				"secret=1; Path=/",
			}},
			Request: req,
		}
	}

	forward := p.receive(newResponse(), uc.Jar(), true)
	require.Len(t, forward, 1)
	assert.Equal(t, "JSESSIONID", forward[0].Name)
	assert.Empty(t, forward[0].Domain)

	names := func() []string {
		var n []string
		for _, c := range uc.Jar().Cookies(req.URL) {
			n = append(n, c.Name)
		}

		return n
	}

	assert.Equal(t, []string{"backend"}, names())

	// outside of proxy mode the forwarded cookies are kept too
	uc = session.NewUserContext("id2")
	assert.Empty(t, p.receive(newResponse(), uc.Jar(), false))
	assert.ElementsMatch(t, []string{"JSESSIONID", "backend"}, names())
}
