package resource

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// ErrorPage is the error of a failed fetch. It carries the response to
// relay to the client.
type ErrorPage struct {
	StatusCode int
	Reason     string
	Body       string
	Header     http.Header

	// Err is the cause, when the page was not received from the
	// backend.
	Err error
}

// NewErrorPage creates an error page with a plain text body.
func NewErrorPage(code int, reason string, cause error) *ErrorPage {
	if reason == "" {
		reason = http.StatusText(code)
	}

	return &ErrorPage{
		StatusCode: code,
		Reason:     reason,
		Body:       reason,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Err:        cause,
	}
}

func (e *ErrorPage) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.StatusCode, e.Reason, e.Err)
	}

	return strconv.Itoa(e.StatusCode) + " " + e.Reason
}

func (e *ErrorPage) Unwrap() error { return e.Err }

// WriteTo writes the error page as the response.
func (e *ErrorPage) WriteTo(w http.ResponseWriter) {
	h := w.Header()
	for k, v := range e.Header {
		h[k] = append([]string(nil), v...)
	}

	h.Del("Content-Length")
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write([]byte(e.Body))
}

// StatusCode returns the status of an error page found in the chain of
// err, otherwise 500.
func StatusCode(err error) int {
	var ep *ErrorPage
	if errors.As(err, &ep) {
		return ep.StatusCode
	}

	return http.StatusInternalServerError
}

// AsErrorPage returns the error page of err, or wraps err into a 500
// error page.
func AsErrorPage(err error) *ErrorPage {
	var ep *ErrorPage
	if errors.As(err, &ep) {
		return ep
	}

	return NewErrorPage(http.StatusInternalServerError, "", err)
}
