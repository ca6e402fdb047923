/*
Package esigate implements an HTTP gateway aggregating the pages of the
backend applications.

The gateway proxies the inbound requests to the instance selected from the
URI mappings. The HTML responses are processed by the renderers of the
instance: the ESI directives (esi:include, esi:choose, esi:try, ...) and
the comment directives (<!--$includeblock$...$-->, ...) are executed,
fetching and caching the fragments from the backends.

Run starts the gateway as a blocking call. It serves the metrics and the
health check on the support listener, shuts down gracefully on SIGTERM and
reloads the instances on SIGHUP.
*/
package esigate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/metrics"
	esinet "github.com/FMHsieh/esigate/net"
	"github.com/FMHsieh/esigate/registry"
	"github.com/FMHsieh/esigate/scheduler"
	"github.com/FMHsieh/esigate/session"
	"github.com/FMHsieh/esigate/tracing"
)

const (
	defaultAddress         = ":8080"
	defaultShutdownTimeout = 30 * time.Second
	healthPath             = "/health"
	metricsPath            = "/metrics"
)

// Options to start the gateway.
type Options struct {

	// Network address that the gateway should listen on.
	Address string

	// Network address of the support endpoints: /metrics and /health.
	// When empty, the support listener is not started.
	SupportListener string

	// Path of the TLS certificate and key. When both set, the gateway
	// serves HTTPS.
	CertPathTLS string
	KeyPathTLS  string

	// Instances maps the instance names to their properties, e.g.
	// remoteUrlBase, mappings or ttl.
	Instances map[string]map[string]string

	// LoadInstances, when set, is called on SIGHUP to reconfigure the
	// instances. It is also called on startup when Instances is empty.
	LoadInstances func() (map[string]map[string]string, error)

	// Number of esi:inline fragments kept by the gateway.
	InlineCacheSize int

	// Time that the instances replaced by a reconfiguration keep serving
	// the requests in flight.
	InstanceCloseDelay time.Duration

	// Admission control of the inbound requests. When MaxConcurrency
	// is 0, every request is admitted.
	MaxConcurrency int
	MaxQueueSize   int
	QueueTimeout   time.Duration

	// Session cookie of the clients. The session keeps the backend
	// cookies and the sticky backend of the client.
	SessionCookieName   string
	SessionIdleTimeout  time.Duration
	SessionCookieSecure bool
	DisableSessions     bool

	// Server timeouts, see http.Server.
	ReadTimeoutServer       time.Duration
	ReadHeaderTimeoutServer time.Duration
	WriteTimeoutServer      time.Duration
	IdleTimeoutServer       time.Duration
	MaxHeaderBytes          int

	// WaitForHealthcheckInterval sets the time that the gateway waits
	// for the loadbalancer in front to become unhealthy, after SIGTERM.
	// The health check fails during this time.
	WaitForHealthcheckInterval time.Duration

	// ShutdownTimeout bounds the draining of the open connections.
	// Defaults to 30s.
	ShutdownTimeout time.Duration

	// Application log.
	ApplicationLogLevel       log.Level
	ApplicationLogPrefix      string
	ApplicationLogJSONEnabled bool

	// Access log.
	AccessLogDisabled    bool
	AccessLogJSONEnabled bool

	// Metrics formats: codahale, prometheus or all.
	MetricsFlavours        []string
	MetricsPrefix          string
	EnableRuntimeMetrics   bool
	EnableDebugGcMetrics   bool
	HistogramMetricBuckets []float64

	// Tracing configures the OpenTelemetry pipeline. When nil, the
	// tracing is not initialized.
	Tracing *tracing.Options

	// Metrics, when set, is used instead of the configured flavours.
	Metrics metrics.Metrics
}

// Server is a configured gateway.
type Server struct {
	options  Options
	registry *registry.Registry
	sessions *session.Store
	queue    *scheduler.Queue
	metrics  metrics.Metrics
	handler  http.Handler
	draining atomic.Bool
}

func (o Options) metricsOptions() metrics.Options {
	var kind metrics.Kind
	for _, f := range o.MetricsFlavours {
		kind |= metrics.ParseMetricsKind(f)
	}

	return metrics.Options{
		Format:               kind,
		Prefix:               o.MetricsPrefix,
		EnableRuntimeMetrics: o.EnableRuntimeMetrics,
		EnableDebugGcMetrics: o.EnableDebugGcMetrics,
		HistogramBuckets:     o.HistogramMetricBuckets,
	}
}

func (o Options) loggingOptions() logging.Options {
	return logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	}
}

// New creates a gateway from the options. It fails when the instances
// cannot be configured.
func New(o Options) (*Server, error) {
	if o.Address == "" {
		o.Address = defaultAddress
	}

	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}

	instances := o.Instances
	if len(instances) == 0 && o.LoadInstances != nil {
		var err error
		if instances, err = o.LoadInstances(); err != nil {
			return nil, fmt.Errorf("failed to load the instances: %w", err)
		}
	}

	m := o.Metrics
	if m == nil {
		m = metrics.NewMetrics(o.metricsOptions())
	}

	reg := registry.New(registry.Options{
		InlineCacheSize: o.InlineCacheSize,
		CloseDelay:      o.InstanceCloseDelay,
		Metrics:         m,
	})

	if err := reg.Configure(instances); err != nil {
		reg.Close()
		return nil, err
	}

	s := &Server{
		options:  o,
		registry: reg,
		metrics:  m,
		queue: scheduler.New(scheduler.Options{
			Config: scheduler.Config{
				MaxConcurrency: o.MaxConcurrency,
				MaxQueueSize:   o.MaxQueueSize,
				Timeout:        o.QueueTimeout,
			},
			Metrics: m,
		}),
	}

	if !o.DisableSessions {
		s.sessions = session.NewStore(session.Options{
			CookieName:  o.SessionCookieName,
			IdleTimeout: o.SessionIdleTimeout,
			Secure:      o.SessionCookieSecure,
		})
	}

	s.handler = logging.NewHandler(&handler{
		registry: reg,
		sessions: s.sessions,
		queue:    s.queue,
		metrics:  m,
	})

	return s, nil
}

// ServeHTTP serves an inbound request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Registry returns the configured instances.
func (s *Server) Registry() *registry.Registry { return s.registry }

// SupportHandler serves the metrics under /metrics and the health check
// under /health. The health check fails once the shutdown started.
func (s *Server) SupportHandler() http.Handler {
	mux := http.NewServeMux()
	s.metrics.RegisterHandler(metricsPath, mux)
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// Reload reconfigures the instances with LoadInstances. On failure, the
// current instances are kept.
func (s *Server) Reload() error {
	if s.options.LoadInstances == nil {
		return nil
	}

	instances, err := s.options.LoadInstances()
	if err != nil {
		return err
	}

	return s.registry.Configure(instances)
}

// Close releases the instances, the sessions and the queue. The
// requests in flight may fail.
func (s *Server) Close() {
	s.queue.Close()
	if s.sessions != nil {
		s.sessions.Close()
	}

	s.registry.Close()
	s.metrics.Close()
}

func (s *Server) newHTTPServer(h http.Handler) *http.Server {
	o := s.options
	return &http.Server{
		Handler:           h,
		ReadTimeout:       o.ReadTimeoutServer,
		ReadHeaderTimeout: o.ReadHeaderTimeoutServer,
		WriteTimeout:      o.WriteTimeoutServer,
		IdleTimeout:       o.IdleTimeoutServer,
		MaxHeaderBytes:    o.MaxHeaderBytes,
	}
}

type runner struct {
	server   *Server
	main     *http.Server
	support  *http.Server
	listener *esinet.ShutdownListener
	wg       sync.WaitGroup
	once     sync.Once
}

func (rn *runner) shutdown(delay time.Duration) {
	rn.once.Do(func() {
		defer rn.wg.Done()

		rn.server.draining.Store(true)
		log.Infof("shutting down the server in %s...", delay)
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), rn.server.options.ShutdownTimeout)
		defer cancel()

		if err := rn.main.Shutdown(ctx); err != nil {
			log.Errorf("unable to shut down the server: %v", err)
		}

		if err := rn.listener.Shutdown(ctx); err != nil {
			log.Errorf("connections left open: %v", err)
		}

		if rn.support != nil {
			if err := rn.support.Shutdown(ctx); err != nil {
				log.Errorf("unable to shut down the support server: %v", err)
			}
		}

		rn.server.Close()
		log.Info("server shut down")
	})
}

func (rn *runner) handleSignals(sigs <-chan os.Signal) {
	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			if err := rn.server.Reload(); err != nil {
				log.Errorf("failed to reload the instances: %v", err)
				continue
			}

			log.Info("instances reloaded")
		default:
			rn.shutdown(rn.server.options.WaitForHealthcheckInterval)
			return
		}
	}
}

func run(s *Server, sigs <-chan os.Signal) error {
	o := s.options
	l, err := net.Listen("tcp", o.Address)
	if err != nil {
		s.Close()
		return err
	}

	rn := &runner{
		server:   s,
		main:     s.newHTTPServer(s),
		listener: esinet.NewShutdownListener(l),
	}

	rn.wg.Add(1)

	if o.SupportListener != "" {
		rn.support = s.newHTTPServer(s.SupportHandler())
		rn.support.Addr = o.SupportListener
		go func() {
			if err := rn.support.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("support listener failed: %v", err)
			}
		}()
	}

	go rn.handleSignals(sigs)

	log.Infof("listening on %s", o.Address)
	if o.CertPathTLS != "" && o.KeyPathTLS != "" {
		err = rn.main.ServeTLS(rn.listener, o.CertPathTLS, o.KeyPathTLS)
	} else {
		err = rn.main.Serve(rn.listener)
	}

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	} else {
		go rn.shutdown(0)
	}

	rn.wg.Wait()
	return err
}

// Run starts the gateway. It is a blocking call, it returns when the
// server is closed, which can happen due to startup errors or a
// gracefully handled SIGTERM signal.
func Run(o Options) error {
	logging.Init(o.loggingOptions())

	if o.Tracing != nil {
		shutdownTracing, err := tracing.Init(context.Background(), o.Tracing)
		if err != nil {
			return err
		}

		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Errorf("failed to shut down tracing: %v", err)
			}
		}()
	}

	s, err := New(o)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	return run(s, sigs)
}
