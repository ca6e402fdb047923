package circuit

import (
	"sync"
	"time"
)

// Registry objects hold the active circuit breakers of an instance, ensure
// synchronized access to them and recycle the idle breakers.
type Registry struct {
	settings BreakerSettings
	lookup   map[string]*Breaker
	mx       sync.Mutex
	now      func() time.Time
}

// NewRegistry initializes a registry with the provided settings.
func NewRegistry(s BreakerSettings) *Registry {
	return &Registry{
		settings: s.withDefaults(),
		lookup:   make(map[string]*Breaker),
		now:      time.Now,
	}
}

func (r *Registry) dropIdle(now time.Time) {
	for h, b := range r.lookup {
		if b.idle(now) {
			delete(r.lookup, h)
		}
	}
}

// Get returns the breaker of the backend host, creating it when
// necessary. It returns nil when the breakers are disabled.
func (r *Registry) Get(host string) *Breaker {
	if r == nil || !r.settings.Enabled() || host == "" {
		return nil
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	now := r.now()

	b, ok := r.lookup[host]
	if !ok || b.idle(now) {
		// check if there is any other to evict, evict if yes
		r.dropIdle(now)

		b = newBreaker(host, r.settings)
		r.lookup[host] = b
	}

	// set the access timestamp
	b.ts = now

	return b
}

func (r *Registry) len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.lookup)
}
