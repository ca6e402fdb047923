package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultCookieName  = "ESIGATESESSIONID"
	DefaultIdleTimeout = 30 * time.Minute
)

// Options configure the session store.
type Options struct {
	// CookieName is the name of the session cookie, defaults to
	// ESIGATESESSIONID.
	CookieName string

	// IdleTimeout is the time after the last access when a session
	// is dropped, defaults to 30 minutes.
	IdleTimeout time.Duration

	// Secure marks the session cookie secure.
	Secure bool
}

type entry struct {
	uc         *UserContext
	lastAccess time.Time
}

// Store keeps the sessions in memory, keyed by the session cookie.
type Store struct {
	options  Options
	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
	quit     chan struct{}
	once     sync.Once
}

// NewStore creates a store and starts the goroutine dropping the idle
// sessions. Close stops it.
func NewStore(o Options) *Store {
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}

	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}

	s := &Store{
		options:  o,
		sessions: make(map[string]*entry),
		now:      time.Now,
		quit:     make(chan struct{}),
	}

	go s.expireLoop()
	return s
}

// Get returns the session of the request. When the request carries no
// known session cookie, a new session is created and its cookie is set on
// the response headers, so Get must be called before the response is
// written.
func (s *Store) Get(w http.ResponseWriter, r *http.Request) *UserContext {
	now := s.now()
	if c, err := r.Cookie(s.options.CookieName); err == nil {
		s.mu.Lock()
		e, ok := s.sessions[c.Value]
		if ok && now.Sub(e.lastAccess) <= s.options.IdleTimeout {
			e.lastAccess = now
			s.mu.Unlock()
			return e.uc
		}

		s.mu.Unlock()
	}

	id := uuid.New().String()
	uc := NewUserContext(id)

	s.mu.Lock()
	s.sessions[id] = &entry{uc: uc, lastAccess: now}
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     s.options.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.options.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	log.Debugf("new session %s", id)
	return uc
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) expire() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.sessions {
		if now.Sub(e.lastAccess) > s.options.IdleTimeout {
			delete(s.sessions, id)
		}
	}
}

func (s *Store) expireLoop() {
	ticker := time.NewTicker(s.options.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.expire()
		case <-s.quit:
			return
		}
	}
}

func (s *Store) Close() {
	s.once.Do(func() { close(s.quit) })
}
