package fetch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FMHsieh/esigate/resource"
	"github.com/FMHsieh/esigate/session"
)

// password: test
const htpasswd = "test:{SHA}qUqP5cyxm6YcTAhz05Hph5gvu9M=\n"

func writeHtpasswd(t *testing.T) string {
	t.Helper()
	f := filepath.Join(t.TempDir(), "htpasswd")
	require.NoError(t, os.WriteFile(f, []byte(htpasswd), 0o600))
	return f
}

func authContext(in *http.Request) *resource.Context {
	r := resource.NewRequest(in, session.NewUserContext("id"), nil)
	return resource.NewContext(r, nil, "/page")
}

func TestNewAuthenticationHandler(t *testing.T) {
	for _, tt := range []struct {
		name     string
		options  AuthOptions
		expected any
		fail     bool
	}{
		{name: "", expected: NoAuth{}},
		{name: "none", expected: NoAuth{}},
		{name: "RemoteUser", expected: &RemoteUser{Header: DefaultRemoteUserHeader}},
		{name: "remoteuser", options: AuthOptions{RemoteUserHeader: "X-User"}, expected: &RemoteUser{Header: "X-User"}},
		{name: "basic", fail: true},
		{name: "basic", options: AuthOptions{HtpasswdFile: "/does/not/exist"}, fail: true},
		{name: "kerberos", fail: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewAuthenticationHandler(tt.name, tt.options)
			if tt.fail {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, h)
		})
	}
}

func TestRemoteUser(t *testing.T) {
	h := &RemoteUser{Header: DefaultRemoteUserHeader}

	in := httptest.NewRequest("GET", "http://www.example.org/page", nil)
	in.SetBasicAuth("alice", "secret")
	rc := authContext(in)

	out := httptest.NewRequest("GET", "http://backend/page", nil)
	h.PreRequest(out, rc)
	assert.Equal(t, []string{"alice"}, out.Header[DefaultRemoteUserHeader])

	rc.Request.User.SetUser("bob")
	out.Header.Set("X_remote_user", "forged")
	h.PreRequest(out, rc)
	assert.Equal(t, http.Header{DefaultRemoteUserHeader: []string{"bob"}}, out.Header)

	// no user
	rc = authContext(httptest.NewRequest("GET", "http://www.example.org/page", nil))
	out = httptest.NewRequest("GET", "http://backend/page", nil)
	h.PreRequest(out, rc)
	assert.Empty(t, out.Header)
}

func TestBasicAuth(t *testing.T) {
	h, err := NewAuthenticationHandler("basic", AuthOptions{HtpasswdFile: writeHtpasswd(t), Realm: "test realm"})
	require.NoError(t, err)

	t.Run("missing credentials", func(t *testing.T) {
		rc := authContext(httptest.NewRequest("GET", "http://www.example.org/page", nil))
		w := httptest.NewRecorder()
		assert.False(t, h.BeforeProxy(w, rc))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, `Basic realm="test realm"`, w.Header().Get("WWW-Authenticate"))
	})

	t.Run("invalid credentials", func(t *testing.T) {
		in := httptest.NewRequest("GET", "http://www.example.org/page", nil)
		in.SetBasicAuth("test", "wrong")
		rc := authContext(in)

		w := httptest.NewRecorder()
		assert.False(t, h.BeforeProxy(w, rc))
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		out := httptest.NewRequest("GET", "http://backend/page", nil)
		h.PreRequest(out, rc)
		assert.Empty(t, out.Header.Values(DefaultRemoteUserHeader))
	})

	t.Run("valid credentials", func(t *testing.T) {
		in := httptest.NewRequest("GET", "http://www.example.org/page", nil)
		in.SetBasicAuth("test", "test")
		rc := authContext(in)

		w := httptest.NewRecorder()
		assert.True(t, h.BeforeProxy(w, rc))
		assert.Equal(t, "test", rc.Request.User.User())

		out := httptest.NewRequest("GET", "http://backend/page", nil)
		h.PreRequest(out, rc)
		assert.Equal(t, []string{"test"}, out.Header[DefaultRemoteUserHeader])
	})
}
