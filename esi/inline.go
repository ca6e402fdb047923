package esi

import (
	"strings"
	"sync"
	"time"

	"github.com/FMHsieh/esigate/parser"
)

// DefaultInlineCacheSize is the number of inline fragments kept when no
// size is configured.
const DefaultInlineCacheSize = 1000

// InlineFragment is a fragment declared with esi:inline.
type InlineFragment struct {
	Name      string
	Fragment  string
	Fetchable bool

	// Expires is zero for the fragments that never expire.
	Expires time.Time
}

// Expired tells whether the fragment expired at the given time.
func (f *InlineFragment) Expired(now time.Time) bool {
	return !f.Expires.IsZero() && !now.Before(f.Expires)
}

// InlineCache keeps the inline fragments by name. The includes with a
// source equal to a name use the fragment instead of fetching it.
type InlineCache struct {
	mu        sync.Mutex
	fragments map[string]*InlineFragment
	max       int
	now       func() time.Time
}

// NewInlineCache creates a cache keeping at most size fragments.
func NewInlineCache(size int) *InlineCache {
	if size <= 0 {
		size = DefaultInlineCacheSize
	}

	return &InlineCache{
		fragments: make(map[string]*InlineFragment),
		max:       size,
		now:       time.Now,
	}
}

// Put stores a fragment, replacing the one with the same name.
func (c *InlineCache) Put(f *InlineFragment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.fragments[f.Name]; !ok && len(c.fragments) >= c.max {
		c.evict()
	}

	c.fragments[f.Name] = f
}

// evict drops the expired fragments, or one fragment when none expired
func (c *InlineCache) evict() {
	now := c.now()
	for name, f := range c.fragments {
		if f.Expired(now) {
			delete(c.fragments, name)
		}
	}

	if len(c.fragments) < c.max {
		return
	}

	for name := range c.fragments {
		delete(c.fragments, name)
		return
	}
}

// Get returns a fragment that did not expire.
func (c *InlineCache) Get(name string) (*InlineFragment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.fragments[name]
	if !ok {
		return nil, false
	}

	if f.Expired(c.now()) {
		delete(c.fragments, name)
		return nil, false
	}

	return f, true
}

// Len returns the number of stored fragments.
func (c *InlineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fragments)
}

// inlineElement stores its content in the inline cache and renders
// nothing.
type inlineElement struct {
	parser.Buffer
	r   *Renderer
	tag *Tag
}

func (e *inlineElement) OnTagStart(_ *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	if t.Attr("name") == "" {
		return false, t.syntaxError("missing name")
	}

	e.tag = t
	return t.Closed, nil
}

func (e *inlineElement) OnTagEnd(ctx *parser.Context, _ string) error {
	if e.r.skipping(ctx) {
		return nil
	}

	f := &InlineFragment{
		Name:      e.tag.Attr("name"),
		Fragment:  e.String(),
		Fetchable: strings.EqualFold(e.tag.Attr("fetchable"), "yes"),
	}

	if ttl, ok := parseTTL(e.tag.Attr("ttl")); ok {
		f.Expires = e.r.inline.now().Add(ttl)
	}

	e.r.inline.Put(f)
	return nil
}
