package esi

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FMHsieh/esigate/resource/resourcetest"
)

func TestInline(t *testing.T) {
	p := newTestProvider()
	req := resourcetest.NewRequest("http://example.com/page", p)
	r := New(Options{})

	out, err := r.Render(resourcetest.NewContext(req, p, "/page"), `begin <esi:inline name="/inline" fetchable="yes">inside inline</esi:inline>end`)
	require.NoError(t, err)
	assert.Equal(t, "begin end", out)

	f, ok := r.InlineCache().Get("/inline")
	require.True(t, ok)
	assert.Equal(t, "inside inline", f.Fragment)
	assert.True(t, f.Fetchable)
	assert.True(t, f.Expires.IsZero())

	out, err = r.Render(resourcetest.NewContext(req, p, "/page"), `[<esi:include src="/inline"/>]`)
	require.NoError(t, err)
	assert.Equal(t, "[inside inline]", out)
	assert.Empty(t, p.Calls())
}

func TestInlineNotFetchable(t *testing.T) {
	cache := NewInlineCache(0)
	r := New(Options{InlineCache: cache})
	p := newTestProvider()
	req := resourcetest.NewRequest("http://example.com/page", p)

	_, err := r.Render(resourcetest.NewContext(req, p, "/page"), `<esi:inline name="x" fetchable="no"><esi:vars>$(HTTP_HOST)</esi:vars></esi:inline>`)
	require.NoError(t, err)

	f, ok := cache.Get("x")
	require.True(t, ok)
	assert.False(t, f.Fetchable)
	assert.Equal(t, "example.com", f.Fragment)
}

func TestInlineTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewInlineCache(0)
	cache.now = func() time.Time { return now }

	r := New(Options{InlineCache: cache})
	p := newTestProvider()
	req := resourcetest.NewRequest("http://example.com/page", p)

	_, err := r.Render(resourcetest.NewContext(req, p, "/page"), `<esi:inline name="x" ttl="1m">x</esi:inline>`)
	require.NoError(t, err)

	_, ok := cache.Get("x")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = cache.Get("x")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestInlineInRemovedContent(t *testing.T) {
	r := New(Options{})
	p := newTestProvider()
	req := resourcetest.NewRequest("http://example.com/page", p)

	_, err := r.Render(resourcetest.NewContext(req, p, "/page"), `<esi:remove><esi:inline name="x">x</esi:inline></esi:remove>`)
	require.NoError(t, err)
	assert.Equal(t, 0, r.InlineCache().Len())
}

func TestInlineCacheSize(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewInlineCache(3)
	cache.now = func() time.Time { return now }

	cache.Put(&InlineFragment{Name: "expiring", Expires: now.Add(time.Second)})
	for i := range 2 {
		cache.Put(&InlineFragment{Name: fmt.Sprint(i)})
	}

	assert.Equal(t, 3, cache.Len())

	// replacing does not evict
	cache.Put(&InlineFragment{Name: "0", Fragment: "new"})
	assert.Equal(t, 3, cache.Len())

	now = now.Add(time.Second)
	cache.Put(&InlineFragment{Name: "2"})
	assert.Equal(t, 3, cache.Len())
	_, ok := cache.Get("expiring")
	assert.False(t, ok)

	cache.Put(&InlineFragment{Name: "3"})
	assert.Equal(t, 3, cache.Len())

	f, ok := cache.Get("3")
	require.True(t, ok)
	assert.Equal(t, "3", f.Name)
}
