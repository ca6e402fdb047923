package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FMHsieh/esigate/parser"
	"github.com/FMHsieh/esigate/resource"
	"github.com/FMHsieh/esigate/resource/resourcetest"
)

func newContext(u string, providers ...*resourcetest.Provider) *resource.Context {
	ps := make([]resource.Provider, len(providers))
	for i, p := range providers {
		ps[i] = p
	}

	r := resourcetest.NewRequest(u, ps...)
	return resourcetest.NewContext(r, ps[0], "/")
}

func TestIncludeBlock(t *testing.T) {
	p := resourcetest.NewProvider("provider1").
		AddPage("/page.html", "x<!--$beginblock$b1$-->block one<!--$endblock$b1$-->y").
		AddPage("/whole.html", "whole page")

	for _, tt := range []struct {
		title  string
		input  string
		expect string
	}{{
		title:  "block",
		input:  "begin <!--$includeblock$provider1$/page.html$b1$-->fallback<!--$endincludeblock$--> end",
		expect: "begin block one end",
	}, {
		title:  "whole page",
		input:  "begin <!--$includeblock$provider1$/whole.html$-->fallback<!--$endincludeblock$--> end",
		expect: "begin whole page end",
	}, {
		title:  "missing block renders empty",
		input:  "begin <!--$includeblock$provider1$/page.html$missing$--><!--$endincludeblock$--> end",
		expect: "begin  end",
	}, {
		title:  "other comments untouched",
		input:  "<!-- comment --><!--$beginblock$b$-->x<!--$endblock$b$-->",
		expect: "<!-- comment --><!--$beginblock$b$-->x<!--$endblock$b$-->",
	}} {
		t.Run(tt.title, func(t *testing.T) {
			out, err := Render(newContext("http://localhost/", p), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, out)
		})
	}
}

func TestIncludeTemplate(t *testing.T) {
	p := resourcetest.NewProvider("provider1").AddPage("/template.html",
		"<!--$begintemplate$t$--><h1><!--$beginparam$title$-->Default<!--$endparam$title$--></h1>"+
			"<div><!--$beginparam$body$-->Default body<!--$endparam$body$--></div><!--$endtemplate$t$-->")

	in := "<!--$includetemplate$provider1$/template.html$t$-->ignored" +
		"<!--$beginput$title$-->My title<!--$endput$-->" +
		"<!--$endincludetemplate$-->"

	out, err := Render(newContext("http://localhost/", p), in)
	require.NoError(t, err)
	assert.Equal(t, "<h1>My title</h1><div>Default body</div>", out)
}

func TestNestedAggregation(t *testing.T) {
	p1 := resourcetest.NewProvider("provider1").
		AddPage("/outer.html", "<!--$beginblock$b$-->outer [<!--$includeblock$provider2$/inner.html$--><!--$endincludeblock$-->]<!--$endblock$b$-->")
	p2 := resourcetest.NewProvider("provider2").AddPage("/inner.html", "inner")

	out, err := Render(newContext("http://localhost/", p1, p2),
		"<!--$includeblock$provider1$/outer.html$b$--><!--$endincludeblock$-->")
	require.NoError(t, err)
	assert.Equal(t, "outer [inner]", out)
}

func TestVariablesInPage(t *testing.T) {
	p := resourcetest.NewProvider("provider1").AddPage("/item?id=42", "item 42")

	out, err := Render(newContext("http://localhost/?id=42", p),
		"<!--$includeblock$provider1$/item?id=$(QUERY_STRING{id})$--><!--$endincludeblock$-->")
	require.NoError(t, err)
	assert.Equal(t, "item 42", out)
}

func TestErrors(t *testing.T) {
	p := resourcetest.NewProvider("provider1").AddError("/fail.html", 500)

	for _, tt := range []struct {
		title  string
		input  string
		status int
		syntax bool
	}{{
		title:  "fetch error",
		input:  "<!--$includeblock$provider1$/fail.html$--><!--$endincludeblock$-->",
		status: 500,
	}, {
		title:  "unknown provider",
		input:  "<!--$includeblock$unknown$/page.html$--><!--$endincludeblock$-->",
		status: 500,
	}, {
		title:  "put outside includetemplate",
		input:  "<!--$beginput$x$-->a<!--$endput$-->",
		syntax: true,
	}, {
		title:  "invalid number of arguments",
		input:  "<!--$includeblock$provider1$-->",
		syntax: true,
	}} {
		t.Run(tt.title, func(t *testing.T) {
			_, err := Render(newContext("http://localhost/", p), tt.input)
			require.Error(t, err)
			if tt.syntax {
				var se *parser.SyntaxError
				assert.ErrorAs(t, err, &se)
				return
			}

			assert.Equal(t, tt.status, resource.StatusCode(err))
		})
	}
}
