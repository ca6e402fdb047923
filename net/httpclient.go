package net

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/FMHsieh/esigate/tracing"
)

const (
	spanName           = "backend_fetch"
	tracingTagURL      = "http.url"
	tracingTagMethod   = "http.method"
	tracingTagStatus   = "http.status_code"
	DefaultMaxConns    = 20
	DefaultDialTimeout = time.Second
)

// Options of the backend transport. The timeouts not set default to
// Timeout.
type Options struct {
	// MaxConnsPerHost limits the connections per backend host, and the
	// idle connections kept.
	MaxConnsPerHost int

	// DialTimeout is the connect timeout.
	DialTimeout time.Duration

	// ResponseHeaderTimeout is the socket timeout of the backend calls.
	ResponseHeaderTimeout time.Duration

	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	Timeout             time.Duration

	// Proxy is the outbound HTTP proxy, with the credentials in the
	// user info.
	Proxy *url.URL

	// Insecure skips the verification of the backend certificates.
	Insecure bool

	// Tracer of the backend calls, the gateway tracer by default.
	Tracer trace.Tracer
}

// Transport is the http.RoundTripper used for the backend calls of an
// instance. Every round trip is traced.
type Transport struct {
	tr       *http.Transport
	tracer   trace.Tracer
	quit     chan struct{}
	quitOnce sync.Once
}

func (o Options) withDefaults() Options {
	if o.Tracer == nil {
		o.Tracer = tracing.Tracer()
	}

	if o.MaxConnsPerHost <= 0 {
		o.MaxConnsPerHost = DefaultMaxConns
	}

	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}

	o.TLSHandshakeTimeout = orDefault(o.TLSHandshakeTimeout, o.Timeout)
	o.IdleConnTimeout = orDefault(o.IdleConnTimeout, o.Timeout)
	o.ResponseHeaderTimeout = orDefault(o.ResponseHeaderTimeout, o.Timeout)
	return o
}

// NewTransport creates the backend transport and starts the idle
// connection reaper. Close stops it.
func NewTransport(o Options) *Transport {
	o = o.withDefaults()
	dialer := &net.Dialer{Timeout: o.DialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       o.MaxConnsPerHost,
		MaxIdleConnsPerHost:   o.MaxConnsPerHost,
		ResponseHeaderTimeout: o.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   o.TLSHandshakeTimeout,
		IdleConnTimeout:       o.IdleConnTimeout,

		// the fetch client decodes the content
		DisableCompression: true,
	}

	if o.Proxy != nil {
		tr.Proxy = http.ProxyURL(o.Proxy)
	}

	if o.Insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	t := &Transport{tr: tr, tracer: o.Tracer, quit: make(chan struct{})}
	if o.IdleConnTimeout > 0 {
		go t.closeIdle(o.IdleConnTimeout)
	}

	return t
}

func (t *Transport) closeIdle(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.tr.CloseIdleConnections()
		case <-t.quit:
			return
		}
	}
}

// RoundTrip implements http.RoundTripper. It starts a client span, injects
// the trace context into the request headers and records the response
// status.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.tracer.Start(req.Context(), spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(tracingTagURL, req.URL.String()),
			attribute.String(tracingTagMethod, req.Method),
		),
	)
	defer span.End()

	req = req.WithContext(httptrace.WithClientTrace(ctx, clientTrace(span)))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	rsp, err := t.tr.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int(tracingTagStatus, rsp.StatusCode))
	if rsp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, rsp.Status)
	}

	return rsp, nil
}

// Close stops the idle connection reaper and closes the idle connections.
func (t *Transport) Close() {
	t.quitOnce.Do(func() {
		close(t.quit)
		t.tr.CloseIdleConnections()
	})
}

func clientTrace(span trace.Span) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			span.AddEvent("dns_start")
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			span.AddEvent("dns_done")
		},
		ConnectStart: func(string, string) {
			span.AddEvent("connect_start")
		},
		ConnectDone: func(string, string, error) {
			span.AddEvent("connect_done")
		},
		TLSHandshakeStart: func() {
			span.AddEvent("tls_start")
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			span.AddEvent("tls_done")
		},
		GotConn: func(httptrace.GotConnInfo) {
			span.AddEvent("got_conn")
		},
	}
}
