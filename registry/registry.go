/*
Package registry keeps the configured instances, and selects the instance
serving an inbound request from the URI mappings.

The instances are configured from flat properties, prefixed with the
instance name:

	remoteUrlBase=http://localhost:8080/
	shop.remoteUrlBase=http://shop-backend:8080/
	shop.mappings=/shop/*
	ttl=60

The properties without prefix belong to the instance named default, and
they are the defaults of every other instance. The instance default exists
only when it has a remoteUrlBase.

A reconfiguration creates a new snapshot of the instances and replaces the
current one at once. The requests read a single snapshot, and never see a
partially configured registry.
*/
package registry

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FMHsieh/esigate/driver"
	"github.com/FMHsieh/esigate/esi"
	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/metrics"
	"github.com/FMHsieh/esigate/resource"
)

// DefaultInstance is the name of the instance of the unprefixed
// properties.
const DefaultInstance = "default"

var (
	// ErrNoMapping is returned by Select when no instance maps the
	// request.
	ErrNoMapping = &resource.ErrorPage{
		StatusCode: http.StatusNotFound,
		Reason:     "Not found",
		Body:       "No mapping defined for this url.",
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
	}

	// ErrNoInstances is returned by Configure when the properties
	// define no instance.
	ErrNoInstances = errors.New("no instance configured")
)

// Options configure the shared dependencies of the instances.
type Options struct {
	// InlineCacheSize is the number of esi:inline fragments shared by
	// the instances.
	InlineCacheSize int

	// CloseDelay is the time the instances of a replaced snapshot keep
	// serving the requests in flight. When 0, they are closed
	// immediately.
	CloseDelay time.Duration

	Metrics metrics.Metrics
	Log     logging.Logger
}

type route struct {
	mapping  *UriMapping
	instance string
}

// Snapshot is an immutable set of configured instances.
type Snapshot struct {
	drivers map[string]*driver.Driver
	routes  []route
}

// Registry owns the instances. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	inline  *esi.InlineCache
	options Options
}

// SplitProperties groups flat properties by instance. A key is split at
// its last dot, the prefix being the instance name. The unprefixed
// properties are merged into every instance, without overriding.
func SplitProperties(props map[string]string) map[string]map[string]string {
	defaults := make(map[string]string)
	instances := make(map[string]map[string]string)
	for k, v := range props {
		i := strings.LastIndexByte(k, '.')
		if i < 0 {
			defaults[k] = v
			continue
		}

		name, key := k[:i], k[i+1:]
		if instances[name] == nil {
			instances[name] = make(map[string]string)
		}

		instances[name][key] = v
	}

	for _, p := range instances {
		for k, v := range defaults {
			if _, ok := p[k]; !ok {
				p[k] = v
			}
		}
	}

	if _, ok := instances[DefaultInstance]; !ok && strings.TrimSpace(defaults[driver.RemoteURLBase]) != "" {
		instances[DefaultInstance] = defaults
	}

	return instances
}

// New creates an empty registry.
func New(o Options) *Registry {
	if o.Metrics == nil {
		o.Metrics = metrics.NewVoid()
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	r := &Registry{
		inline:  esi.NewInlineCache(o.InlineCacheSize),
		options: o,
	}

	r.current.Store(&Snapshot{drivers: make(map[string]*driver.Driver)})
	return r
}

// InlineCache returns the esi:inline fragments shared by the instances.
func (r *Registry) InlineCache() *esi.InlineCache { return r.inline }

// ConfigureProperties configures the instances from flat properties.
func (r *Registry) ConfigureProperties(props map[string]string) error {
	return r.Configure(SplitProperties(props))
}

// Configure replaces every instance with the ones created from the
// properties by instance name. On error, the current instances are kept.
func (r *Registry) Configure(instances map[string]map[string]string) error {
	if len(instances) == 0 {
		return ErrNoInstances
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.build(instances)
	if err != nil {
		return err
	}

	prev := r.current.Swap(next)
	r.options.Log.Infof("configured instances: %s", strings.Join(next.Names(), ", "))
	r.retire(prev)
	return nil
}

func (r *Registry) build(instances map[string]map[string]string) (*Snapshot, error) {
	names := make([]string, 0, len(instances))
	for name := range instances {
		names = append(names, name)
	}

	sort.Strings(names)

	s := &Snapshot{drivers: make(map[string]*driver.Driver)}
	for _, name := range names {
		if err := s.add(name, instances[name], r.driverOptions()); err != nil {
			s.close()
			return nil, err
		}
	}

	sort.SliceStable(s.routes, func(i, j int) bool {
		return s.routes[i].mapping.Weight() > s.routes[j].mapping.Weight()
	})

	return s, nil
}

func (r *Registry) driverOptions() driver.Options {
	return driver.Options{
		InlineCache: r.inline,
		Metrics:     r.options.Metrics,
		Log:         r.options.Log,
	}
}

func (s *Snapshot) add(name string, props map[string]string, o driver.Options) error {
	c, err := driver.NewConfig(name, props)
	if err != nil {
		return err
	}

	var mappings []*UriMapping
	for _, raw := range c.Mappings {
		m, err := ParseMapping(raw)
		if err != nil {
			return fmt.Errorf("instance %s: %w", name, err)
		}

		mappings = append(mappings, m)
	}

	d, err := driver.New(c, o)
	if err != nil {
		return err
	}

	s.drivers[name] = d
	for _, m := range mappings {
		s.routes = append(s.routes, route{mapping: m, instance: name})
	}

	return nil
}

func (r *Registry) retire(s *Snapshot) {
	if len(s.drivers) == 0 {
		return
	}

	if r.options.CloseDelay <= 0 {
		s.close()
		return
	}

	time.AfterFunc(r.options.CloseDelay, s.close)
}

func (s *Snapshot) close() {
	for _, d := range s.drivers {
		d.Close()
	}
}

// Snapshot returns the current instances.
func (r *Registry) Snapshot() *Snapshot { return r.current.Load() }

// Get returns an instance of the current snapshot.
func (r *Registry) Get(name string) (*driver.Driver, bool) { return r.Snapshot().Get(name) }

// Select returns the instance of the current snapshot mapping a request.
func (r *Registry) Select(scheme, host, path string) (*driver.Driver, error) {
	return r.Snapshot().Select(scheme, host, path)
}

// Close closes every instance. The registry serves no request
// afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.current.Swap(&Snapshot{drivers: make(map[string]*driver.Driver)})
	prev.close()
}

// Get returns an instance by name. The empty name means the default
// instance.
func (s *Snapshot) Get(name string) (*driver.Driver, bool) {
	if name == "" {
		name = DefaultInstance
	}

	d, ok := s.drivers[name]
	return d, ok
}

// Provider is Get as a resource.ProviderLookup.
func (s *Snapshot) Provider(name string) (resource.Provider, bool) {
	d, ok := s.Get(name)
	if !ok {
		return nil, false
	}

	return d, true
}

// Select returns the instance with the most specific mapping matching
// the request, or ErrNoMapping.
func (s *Snapshot) Select(scheme, host, path string) (*driver.Driver, error) {
	for _, rt := range s.routes {
		if rt.mapping.Matches(scheme, host, path) {
			return s.drivers[rt.instance], nil
		}
	}

	return nil, ErrNoMapping
}

// Names returns the sorted names of the instances.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.drivers))
	for name := range s.drivers {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}
