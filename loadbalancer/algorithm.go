package loadbalancer

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	xxhash "github.com/cespare/xxhash/v2"
	jump "github.com/dgryski/go-jump"

	"github.com/FMHsieh/esigate/net"
)

// Algorithm indicates the used load balancing strategy.
type Algorithm int

const (
	// None is the default non-specified algorithm, round robin.
	None Algorithm = iota

	// Single always uses the first base URL.
	Single

	// RoundRobin indicates round-robin load balancing between the base URLs.
	RoundRobin

	// IPHash chooses the base URL from the hashed client IP.
	IPHash

	// StickySession pins a session to the first base URL chosen for it.
	StickySession
)

var errUnknownStrategy = errors.New("unsupported remoteUrlBaseStrategy")

// StickyStore keeps the base URL index chosen for a session.
type StickyStore interface {
	StickyIndex(key string) (int, bool)
	SetStickyIndex(key string, index int)
}

// Context is the input of a strategy for one backend call.
type Context struct {
	// Request is the inbound request. It may be nil for background
	// calls.
	Request *http.Request

	// Sticky is the session scoped storage of the sticky strategy.
	Sticky StickyStore
}

// Strategy chooses one of the base URLs of an instance.
type Strategy interface {
	Apply(ctx *Context) string
}

// New creates the strategy for the base URLs of an instance. The sticky
// strategy stores the chosen index under key.
func New(a Algorithm, baseURLs []string, key string) (Strategy, error) {
	if len(baseURLs) == 0 {
		return nil, errors.New("no base url")
	}

	switch a {
	case Single:
		return single(baseURLs[0]), nil
	case None, RoundRobin:
		return newRoundRobin(baseURLs), nil
	case IPHash:
		return ipHash(baseURLs), nil
	case StickySession:
		return &stickySession{key: key, rr: newRoundRobin(baseURLs)}, nil
	default:
		return nil, errUnknownStrategy
	}
}

type single string

func (s single) Apply(*Context) string { return string(s) }

type roundRobin struct {
	mx       sync.Mutex
	index    int
	baseURLs []string
}

// the first call goes to the first base URL
func newRoundRobin(baseURLs []string) *roundRobin {
	return &roundRobin{baseURLs: baseURLs}
}

func (r *roundRobin) next() int {
	r.mx.Lock()
	defer r.mx.Unlock()

	choice := r.index
	r.index = (r.index + 1) % len(r.baseURLs)
	return choice
}

// Apply implements Strategy with a round-robin algorithm.
func (r *roundRobin) Apply(*Context) string {
	if len(r.baseURLs) == 1 {
		return r.baseURLs[0]
	}

	return r.baseURLs[r.next()]
}

type ipHash []string

// Apply implements Strategy with a consistent hash of the client IP.
func (h ipHash) Apply(ctx *Context) string {
	if len(h) == 1 || ctx == nil || ctx.Request == nil {
		return h[0]
	}

	key := net.RemoteAddr(ctx.Request).String()
	return h[jump.Hash(xxhash.Sum64String(key), len(h))]
}

type stickySession struct {
	key string
	rr  *roundRobin
}

// Apply implements Strategy, reusing the index stored in the session.
func (s *stickySession) Apply(ctx *Context) string {
	if ctx == nil || ctx.Sticky == nil {
		return s.rr.Apply(ctx)
	}

	if i, ok := ctx.Sticky.StickyIndex(s.key); ok && i >= 0 && i < len(s.rr.baseURLs) {
		return s.rr.baseURLs[i]
	}

	i := s.rr.next()
	ctx.Sticky.SetStickyIndex(s.key, i)
	return s.rr.baseURLs[i]
}

// AlgorithmFromString parses the remoteUrlBaseStrategy property.
func AlgorithmFromString(a string) (Algorithm, error) {
	switch a {
	case "":
		return None, nil
	case "single":
		return Single, nil
	case "roundrobin":
		return RoundRobin, nil
	case "iphash":
		return IPHash, nil
	case "stickysession":
		return StickySession, nil
	default:
		return None, fmt.Errorf("%w: %s", errUnknownStrategy, a)
	}
}

// String returns the property value of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case Single:
		return "single"
	case RoundRobin:
		return "roundrobin"
	case IPHash:
		return "iphash"
	case StickySession:
		return "stickysession"
	default:
		return ""
	}
}
