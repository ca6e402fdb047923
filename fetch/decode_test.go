package fetch

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const content = "<html><body>Hello, world!</body></html>"

func encodeWith(t *testing.T, enc string, in []byte) []byte {
	t.Helper()

	var (
		b bytes.Buffer
		w io.WriteCloser
	)

	switch enc {
	case "gzip":
		w = gzip.NewWriter(&b)
	case "deflate":
		w = zlib.NewWriter(&b)
	case "br":
		w = brotli.NewWriter(&b)
	case "zstd":
		var err error
		w, err = zstd.NewWriter(&b)
		require.NoError(t, err)
	default:
		t.Fatalf("unknown encoding: %s", enc)
	}

	_, err := w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return b.Bytes()
}

func encodedResponse(t *testing.T, encs ...string) *http.Response {
	b := []byte(content)
	for _, e := range encs {
		b = encodeWith(t, e, b)
	}

	return &http.Response{
		Header: http.Header{
			"Content-Encoding": []string{strings.Join(encs, ", ")},
			"Content-Length":   []string{"1"},
		},
		Body:          io.NopCloser(bytes.NewReader(b)),
		ContentLength: int64(len(b)),
	}
}

func TestDecode(t *testing.T) {
	for _, encs := range [][]string{
		{"gzip"},
		{"deflate"},
		{"br"},
		{"zstd"},
		{"br", "gzip"},
		{"gzip", "zstd", "deflate"},
	} {
		t.Run(strings.Join(encs, ","), func(t *testing.T) {
			rsp := encodedResponse(t, encs...)
			require.NoError(t, decode(rsp))
			defer rsp.Body.Close()

			b, err := io.ReadAll(rsp.Body)
			require.NoError(t, err)
			assert.Equal(t, content, string(b))
			assert.Empty(t, rsp.Header.Get("Content-Encoding"))
			assert.Empty(t, rsp.Header.Get("Content-Length"))
			assert.Equal(t, int64(-1), rsp.ContentLength)
			assert.True(t, rsp.Uncompressed)
		})
	}
}

func TestDecodeUnchanged(t *testing.T) {
	for _, enc := range []string{"", "identity", "compress", "gzip, compress"} {
		t.Run(enc, func(t *testing.T) {
			rsp := &http.Response{
				Header: http.Header{"Content-Encoding": []string{enc}},
				Body:   io.NopCloser(strings.NewReader(content)),
			}

			require.NoError(t, decode(rsp))
			b, err := io.ReadAll(rsp.Body)
			require.NoError(t, err)
			assert.Equal(t, content, string(b))
			assert.Equal(t, enc, rsp.Header.Get("Content-Encoding"))
		})
	}
}

func TestDecodeInvalid(t *testing.T) {
	rsp := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"gzip"}},
		Body:   io.NopCloser(strings.NewReader("not gzip")),
	}

	assert.Error(t, decode(rsp))
}
