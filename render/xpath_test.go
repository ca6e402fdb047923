package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const xpathPage = `<html><body><div id="menu"><ul><li><a href="/a">A</a></li><li><a href="/b">B</a></li></ul></div><p>text</p></body></html>`

func TestXPath(t *testing.T) {
	for _, tt := range []struct {
		expr   string
		expect string
	}{
		{`//div[@id='menu']/ul/li[1]`, `<li><a href="/a">A</a></li>`},
		{`//html:p`, `<p>text</p>`},
		{`//a/@href`, `/a/b`},
		{`count(//li)`, `2`},
		{`string(//p)`, `text`},
		{`//table`, ``},
	} {
		t.Run(tt.expr, func(t *testing.T) {
			r, err := XPath(tt.expr)
			require.NoError(t, err)

			out, err := r(nil, xpathPage)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, out)
		})
	}
}

func TestInvalidXPath(t *testing.T) {
	_, err := XPath("//div[")
	assert.Error(t, err)
}

func TestStylesheet(t *testing.T) {
	tpl, err := ParseStylesheet("menu", `<nav>{{range .Find "//a"}}[{{.Attr "href"}}|{{.Text}}]{{end}}</nav>{{with .First "//p"}}{{.HTML}}{{end}}`)
	require.NoError(t, err)

	out, err := Stylesheet(tpl)(nil, xpathPage)
	require.NoError(t, err)
	assert.Equal(t, `<nav>[/a|A][/b|B]</nav><p>text</p>`, out)
}

func TestStylesheetErrors(t *testing.T) {
	_, err := ParseStylesheet("bad", "{{range}}")
	assert.Error(t, err)

	tpl, err := ParseStylesheet("query", `{{.Find "//div["}}`)
	require.NoError(t, err)

	_, err = Stylesheet(tpl)(nil, xpathPage)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "query"))
}
