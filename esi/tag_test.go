package esi

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTag(t *testing.T) {
	tag, err := ParseTag(`<esi:include src="$(PROVIDER{p})/test" alt='/alt' onerror="continue" data-x="a b"/>`)
	require.NoError(t, err)

	assert.Equal(t, "include", tag.Name)
	assert.True(t, tag.Closed)
	assert.False(t, tag.End)
	if d := cmp.Diff(map[string]string{
		"src":     "$(PROVIDER{p})/test",
		"alt":     "/alt",
		"onerror": "continue",
		"data-x":  "a b",
	}, tag.Attrs); d != "" {
		t.Errorf("unexpected attributes (-want +got):\n%s", d)
	}

	tag, err = ParseTag("</esi:try>")
	require.NoError(t, err)
	assert.Equal(t, "try", tag.Name)
	assert.True(t, tag.End)
	assert.False(t, tag.Has("src"))

	tag, err = ParseTag(`<esi:when test="$(HTTP_COOKIE{g})=='a'">`)
	require.NoError(t, err)
	assert.Equal(t, "$(HTTP_COOKIE{g})=='a'", tag.Attr("test"))
	assert.False(t, tag.Closed)

	_, err = ParseTag("<esi:>")
	assert.Error(t, err)
}

func TestElementType(t *testing.T) {
	try := &elementType{name: "try"}
	assert.True(t, try.IsStartTag("<esi:try>"))
	assert.True(t, try.IsEndTag("</esi:try>"))
	assert.False(t, try.IsStartTag("<esi:trying>"))
	assert.False(t, try.IsStartTag("</esi:try>"))
	assert.True(t, (&elementType{name: "include"}).IsStartTag(`<esi:include src="x"/>`))
}
