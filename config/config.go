package config

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/FMHsieh/esigate"
	"github.com/FMHsieh/esigate/registry"
	"github.com/FMHsieh/esigate/tracing"
)

const (
	defaultAddress                 = ":8080"
	defaultSupportListener         = ":9911"
	defaultMetricsPrefix           = "esigate."
	defaultApplicationLogPrefix    = "[APP]"
	defaultApplicationLogLevel     = "INFO"
	defaultReadTimeoutServer       = 5 * time.Minute
	defaultReadHeaderTimeoutServer = 60 * time.Second
	defaultWriteTimeoutServer      = 60 * time.Second
	defaultIdleTimeoutServer       = 60 * time.Second
	defaultShutdownTimeout         = 30 * time.Second
	defaultInstanceCloseDelay      = 10 * time.Second
	defaultTracingServiceName      = "esigate"

	// PropertiesFileEnv names the properties file read when no
	// properties are configured otherwise.
	PropertiesFileEnv = "ESIGATE_CONFIG"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address         string `yaml:"address"`
	SupportListener string `yaml:"support-listener"`
	CertPathTLS     string `yaml:"tls-cert"`
	KeyPathTLS      string `yaml:"tls-key"`

	// instances:
	PropertiesFiles    *fileListFlag  `yaml:"properties-file"`
	Properties         *mapFlags      `yaml:"properties"`
	Instances          *instancesFlag `yaml:"instances"`
	InlineCacheSize    int            `yaml:"inline-cache-size"`
	InstanceCloseDelay time.Duration  `yaml:"instance-close-delay"`

	// admission control:
	MaxConcurrency int           `yaml:"max-concurrency"`
	MaxQueueSize   int           `yaml:"max-queue-size"`
	QueueTimeout   time.Duration `yaml:"queue-timeout"`

	// sessions:
	SessionCookieName   string        `yaml:"session-cookie-name"`
	SessionIdleTimeout  time.Duration `yaml:"session-idle-timeout"`
	SessionCookieSecure bool          `yaml:"session-cookie-secure"`
	DisableSessions     bool          `yaml:"disable-sessions"`

	// server:
	ReadTimeoutServer          time.Duration `yaml:"read-timeout-server"`
	ReadHeaderTimeoutServer    time.Duration `yaml:"read-header-timeout-server"`
	WriteTimeoutServer         time.Duration `yaml:"write-timeout-server"`
	IdleTimeoutServer          time.Duration `yaml:"idle-timeout-server"`
	MaxHeaderBytes             int           `yaml:"max-header-bytes"`
	WaitForHealthcheckInterval time.Duration `yaml:"wait-for-healthcheck-interval"`
	ShutdownTimeout            time.Duration `yaml:"shutdown-timeout"`

	// logging, metrics, tracing:
	ApplicationLogLevel          log.Level `yaml:"-"`
	ApplicationLogLevelString    string    `yaml:"application-log-level"`
	ApplicationLogPrefix         string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled    bool      `yaml:"application-log-json-enabled"`
	AccessLogDisabled            bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled         bool      `yaml:"access-log-json-enabled"`
	MetricsFlavour               *listFlag `yaml:"metrics-flavour"`
	MetricsPrefix                string    `yaml:"metrics-prefix"`
	EnableRuntimeMetrics         bool      `yaml:"runtime-metrics"`
	EnableDebugGcMetrics         bool      `yaml:"debug-gc-metrics"`
	HistogramMetricBuckets       []float64 `yaml:"-"`
	HistogramMetricBucketsString string    `yaml:"histogram-metric-buckets"`
	EnableTracing                bool      `yaml:"enable-tracing"`
	TracingServiceName           string    `yaml:"tracing-service-name"`
}

func NewConfig() *Config {
	cfg := new(Config)
	cfg.PropertiesFiles = &fileListFlag{}
	cfg.Properties = newMapFlags()
	cfg.Instances = &instancesFlag{}
	cfg.MetricsFlavour = commaListFlag("codahale", "prometheus", "all")
	cfg.MetricsFlavour.Set("prometheus")

	flag := flag.NewFlagSet("", flag.ContinueOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", defaultAddress, "network address that esigate should listen on")
	flag.StringVar(&cfg.SupportListener, "support-listener", defaultSupportListener, "network address used for exposing the /metrics and /health endpoints. An empty value disables support endpoint.")
	flag.StringVar(&cfg.CertPathTLS, "tls-cert", "", "the path on the local filesystem to the certificate file (including any intermediates)")
	flag.StringVar(&cfg.KeyPathTLS, "tls-key", "", "the path on the local filesystem to the certificate's private key file")

	// instances:
	flag.Var(cfg.PropertiesFiles, "properties-file", "properties file of the instances, e.g. shop.remoteUrlBase=http://shop/. Can be repeated, the later files override the earlier ones. Defaults to $"+PropertiesFileEnv)
	flag.Var(cfg.Properties, "properties", "comma separated instance properties overriding the properties files, e.g. ttl=60,shop.useCache=false")
	flag.Var(cfg.Instances, "instances", "properties by instance name as YAML, e.g. {shop: {remoteUrlBase: http://shop/, mappings: /shop/*}}")
	flag.IntVar(&cfg.InlineCacheSize, "inline-cache-size", 0, "maximum number of esi:inline fragments kept")
	flag.DurationVar(&cfg.InstanceCloseDelay, "instance-close-delay", defaultInstanceCloseDelay, "time that the instances replaced by a reload keep serving the requests in flight")

	// admission control:
	flag.IntVar(&cfg.MaxConcurrency, "max-concurrency", 0, "maximum number of the inbound requests served concurrently, 0 means no limit")
	flag.IntVar(&cfg.MaxQueueSize, "max-queue-size", 0, "maximum number of the inbound requests waiting to be served, 0 means no limit")
	flag.DurationVar(&cfg.QueueTimeout, "queue-timeout", 0, "maximum time an inbound request waits to be served, 0 means no limit")

	// sessions:
	flag.StringVar(&cfg.SessionCookieName, "session-cookie-name", "", "name of the session cookie")
	flag.DurationVar(&cfg.SessionIdleTimeout, "session-idle-timeout", 0, "time after which an idle session is dropped")
	flag.BoolVar(&cfg.SessionCookieSecure, "session-cookie-secure", false, "set the Secure attribute of the session cookie")
	flag.BoolVar(&cfg.DisableSessions, "disable-sessions", false, "disable the client sessions, the backend cookies are not kept")

	// server:
	flag.DurationVar(&cfg.ReadTimeoutServer, "read-timeout-server", defaultReadTimeoutServer, "set ReadTimeout for http server connections")
	flag.DurationVar(&cfg.ReadHeaderTimeoutServer, "read-header-timeout-server", defaultReadHeaderTimeoutServer, "set ReadHeaderTimeout for http server connections")
	flag.DurationVar(&cfg.WriteTimeoutServer, "write-timeout-server", defaultWriteTimeoutServer, "set WriteTimeout for http server connections")
	flag.DurationVar(&cfg.IdleTimeoutServer, "idle-timeout-server", defaultIdleTimeoutServer, "set IdleTimeout for http server connections")
	flag.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", http.DefaultMaxHeaderBytes, "set MaxHeaderBytes for http server connections")
	flag.DurationVar(&cfg.WaitForHealthcheckInterval, "wait-for-healthcheck-interval", 0, "period waiting to become unhealthy in the loadbalancer pool in front of esigate, before shutdown triggered by SIGTERM")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "maximum time waiting for the open connections to close on shutdown")

	// logging, metrics, tracing:
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", defaultApplicationLogLevel, "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", defaultApplicationLogPrefix, "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.Var(cfg.MetricsFlavour, "metrics-flavour", "Metrics flavour is used to change the exposed metrics format. Supported metric formats: 'codahale', 'prometheus' and 'all'")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", defaultMetricsPrefix, "allows setting a custom path prefix for the codahale metrics")
	flag.BoolVar(&cfg.EnableRuntimeMetrics, "runtime-metrics", true, "enables reporting the Go runtime statistics")
	flag.BoolVar(&cfg.EnableDebugGcMetrics, "debug-gc-metrics", false, "enables reporting of the Go garbage collector statistics")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")
	flag.BoolVar(&cfg.EnableTracing, "enable-tracing", false, "enables the OpenTelemetry tracing, configured with the OTEL_* environment variables")
	flag.StringVar(&cfg.TracingServiceName, "tracing-service-name", defaultTracingServiceName, "service name reported in the traces")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	if _, err := log.ParseLevel(c.ApplicationLogLevelString); err != nil {
		return err
	}

	if _, err := parseHistogramBuckets(c.HistogramMetricBucketsString); err != nil {
		return err
	}

	if c.MaxConcurrency < 0 || c.MaxQueueSize < 0 {
		return fmt.Errorf("invalid admission queue: max-concurrency=%d max-queue-size=%d", c.MaxConcurrency, c.MaxQueueSize)
	}

	if (c.CertPathTLS == "") != (c.KeyPathTLS == "") {
		return fmt.Errorf("tls-cert and tls-key must be set together")
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ContinueOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		// the flags take precedence over the file, the repeated flags
		// are collected once
		*c.PropertiesFiles = nil
		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}

		if len(*c.PropertiesFiles) == 0 {
			_ = yaml.Unmarshal(yamlFile, &struct {
				PropertiesFiles *fileListFlag `yaml:"properties-file"`
			}{c.PropertiesFiles})
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.HistogramMetricBuckets, _ = parseHistogramBuckets(c.HistogramMetricBucketsString)
	c.parseEnv()

	// fail on startup for invalid properties files
	if _, err := c.LoadInstances(); err != nil {
		return err
	}

	return nil
}

func parseHistogramBuckets(bucketString string) ([]float64, error) {
	if bucketString == "" {
		return prometheus.DefBuckets, nil
	}

	var result []float64
	thresholds := strings.Split(bucketString, ",")
	for _, v := range thresholds {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}

		result = append(result, bucket)
	}

	sort.Float64s(result)
	return result, nil
}

func (c *Config) parseEnv() {
	if len(*c.PropertiesFiles) == 0 && len(c.Properties.values) == 0 && len(c.Instances.instances) == 0 {
		if p := os.Getenv(PropertiesFileEnv); p != "" {
			c.PropertiesFiles.Set(p)
		}
	}
}

// LoadInstances reads the properties files, applies the properties
// overrides and the YAML instances, and returns the properties by
// instance name. It is called again on reload, so the changes of the
// properties files take effect without a restart.
func (c *Config) LoadInstances() (map[string]map[string]string, error) {
	props, err := ReadPropertiesFiles(*c.PropertiesFiles...)
	if err != nil {
		return nil, err
	}

	for k, v := range c.Properties.values {
		props[k] = v
	}

	instances := registry.SplitProperties(props)
	for name, p := range c.Instances.instances {
		merged := instances[name]
		if merged == nil {
			merged = make(map[string]string)
			for k, v := range props {
				if !strings.Contains(k, ".") {
					merged[k] = v
				}
			}

			instances[name] = merged
		}

		for k, v := range p {
			merged[k] = v
		}
	}

	return instances, nil
}

func (c *Config) ToOptions() esigate.Options {
	o := esigate.Options{
		Address:                    c.Address,
		SupportListener:            c.SupportListener,
		CertPathTLS:                c.CertPathTLS,
		KeyPathTLS:                 c.KeyPathTLS,
		LoadInstances:              c.LoadInstances,
		InlineCacheSize:            c.InlineCacheSize,
		InstanceCloseDelay:         c.InstanceCloseDelay,
		MaxConcurrency:             c.MaxConcurrency,
		MaxQueueSize:               c.MaxQueueSize,
		QueueTimeout:               c.QueueTimeout,
		SessionCookieName:          c.SessionCookieName,
		SessionIdleTimeout:         c.SessionIdleTimeout,
		SessionCookieSecure:        c.SessionCookieSecure,
		DisableSessions:            c.DisableSessions,
		ReadTimeoutServer:          c.ReadTimeoutServer,
		ReadHeaderTimeoutServer:    c.ReadHeaderTimeoutServer,
		WriteTimeoutServer:         c.WriteTimeoutServer,
		IdleTimeoutServer:          c.IdleTimeoutServer,
		MaxHeaderBytes:             c.MaxHeaderBytes,
		WaitForHealthcheckInterval: c.WaitForHealthcheckInterval,
		ShutdownTimeout:            c.ShutdownTimeout,
		ApplicationLogLevel:        c.ApplicationLogLevel,
		ApplicationLogPrefix:       c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled:  c.ApplicationLogJSONEnabled,
		AccessLogDisabled:          c.AccessLogDisabled,
		AccessLogJSONEnabled:       c.AccessLogJSONEnabled,
		MetricsFlavours:            c.MetricsFlavour.values,
		MetricsPrefix:              c.MetricsPrefix,
		EnableRuntimeMetrics:       c.EnableRuntimeMetrics,
		EnableDebugGcMetrics:       c.EnableDebugGcMetrics,
		HistogramMetricBuckets:     c.HistogramMetricBuckets,
	}

	if c.EnableTracing {
		o.Tracing = &tracing.Options{ServiceName: c.TracingServiceName}
	}

	return o
}
