package circuit

import (
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	DefaultTimeout          = time.Minute
	DefaultHalfOpenRequests = 1
	DefaultIdleTTL          = time.Hour
)

// BreakerSettings contains the settings of the breakers of an instance.
type BreakerSettings struct {
	Failures         int           `yaml:"failures"`
	Timeout          time.Duration `yaml:"timeout"`
	HalfOpenRequests int           `yaml:"half-open-requests"`
	IdleTTL          time.Duration `yaml:"idle-ttl"`
}

// Enabled tells whether breakers are configured at all.
func (s BreakerSettings) Enabled() bool {
	return s.Failures > 0
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}

	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = DefaultHalfOpenRequests
	}

	if s.IdleTTL <= 0 {
		s.IdleTTL = DefaultIdleTTL
	}

	return s
}

// String returns the string representation of a particular set of settings.
func (s BreakerSettings) String() string {
	if !s.Enabled() {
		return "disabled"
	}

	ss := []string{"failures=" + strconv.Itoa(s.Failures)}
	if s.Timeout > 0 {
		ss = append(ss, "timeout="+s.Timeout.String())
	}

	if s.HalfOpenRequests > 0 {
		ss = append(ss, "half-open-requests="+strconv.Itoa(s.HalfOpenRequests))
	}

	if s.IdleTTL > 0 {
		ss = append(ss, "idle-ttl="+s.IdleTTL.String())
	}

	return strings.Join(ss, ",")
}

// Breaker is the circuit breaker of a single backend host.
//
// Use the Get() method of the Registry to request fully initialized breakers.
type Breaker struct {
	host     string
	settings BreakerSettings
	ts       time.Time
	gb       *gobreaker.TwoStepCircuitBreaker
}

func newBreaker(host string, s BreakerSettings) *Breaker {
	b := &Breaker{host: host, settings: s}
	b.gb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: uint32(s.HalfOpenRequests),
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return int(c.ConsecutiveFailures) >= s.Failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infof("circuit breaker %v went from %v to %v", name, from.String(), to.String())
		},
	})

	return b
}

// Allow returns true if the breaker lets the call through, and a callback
// for reporting its outcome. The callback expects true when the call
// succeeded. No callback is returned when the breaker is open.
func (b *Breaker) Allow() (func(bool), bool) {
	done, err := b.gb.Allow()

	// this error can only indicate that the breaker is not closed
	if err != nil {
		return nil, false
	}

	return done, true
}

// State returns the gobreaker state name: closed, half-open or open.
func (b *Breaker) State() string {
	return b.gb.State().String()
}

func (b *Breaker) idle(now time.Time) bool {
	return now.Sub(b.ts) > b.settings.IdleTTL
}
