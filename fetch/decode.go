package fetch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding lists the encodings the client can decode
const acceptEncoding = "gzip, deflate, br, zstd"

var errUnsupportedEncoding = errors.New("unsupported content encoding")

var supportedEncodings = map[string]bool{
	"gzip":    true,
	"x-gzip":  true,
	"deflate": true,
	"br":      true,
	"zstd":    true,
}

type decodedBody struct {
	original io.Closer
	decoder  io.ReadCloser
}

type decodingError struct {
	decoder  error
	original error
}

// workaround to make the brotli reader a ReadCloser
type brotliWrapper struct {
	*brotli.Reader
}

func (brotliWrapper) Close() error { return nil }

func newDecoder(enc string, r io.Reader) (io.ReadCloser, error) {
	switch enc {
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return zlib.NewReader(r)
	case "br":
		return brotliWrapper{brotli.NewReader(r)}, nil
	case "zstd":
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}

		return d.IOReadCloser(), nil
	default:
		return nil, errUnsupportedEncoding
	}
}

func getEncodings(header string) []string {
	var encs []string
	for e := range strings.SplitSeq(header, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && e != "identity" {
			encs = append(encs, e)
		}
	}

	return encs
}

// the encodings are applied in order, so they are decoded in reverse
func newDecodedBody(original io.ReadCloser, encs []string) (io.ReadCloser, error) {
	if len(encs) == 0 {
		return original, nil
	}

	last := len(encs) - 1
	decoder, err := newDecoder(encs[last], original)
	if err != nil {
		return nil, err
	}

	return newDecodedBody(decodedBody{original: original, decoder: decoder}, encs[:last])
}

func (b decodedBody) Read(p []byte) (int, error) {
	return b.decoder.Read(p)
}

func (b decodedBody) Close() error {
	derr := b.decoder.Close()
	oerr := b.original.Close()
	if derr != nil || oerr != nil {
		return decodingError{decoder: derr, original: oerr}
	}

	return nil
}

func (e decodingError) Error() string {
	switch {
	case e.decoder == nil:
		return e.original.Error()
	case e.original == nil:
		return e.decoder.Error()
	default:
		return fmt.Sprintf("%v; %v", e.decoder, e.original)
	}
}

// decode replaces the body of the response with its decoded content. A
// response with an unsupported encoding is left unchanged.
func decode(rsp *http.Response) error {
	encs := getEncodings(rsp.Header.Get("Content-Encoding"))
	if len(encs) == 0 || rsp.Body == nil || rsp.Body == http.NoBody {
		return nil
	}

	for _, e := range encs {
		if !supportedEncodings[e] {
			return nil
		}
	}

	body, err := newDecodedBody(rsp.Body, encs)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", rsp.Header.Get("Content-Encoding"), err)
	}

	rsp.Body = body
	rsp.Header.Del("Content-Encoding")
	rsp.Header.Del("Content-Length")
	rsp.ContentLength = -1
	rsp.Uncompressed = true
	return nil
}
