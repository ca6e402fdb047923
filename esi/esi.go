/*
Package esi implements the Edge Side Includes directives:

	<esi:include src="..." [alt="..."] [onerror="continue"] [fragment="..."]
	    [xpath="..."] [stylesheet="..."] [no-store="on"] [ttl="1h"]
	    [maxwait="500"] [rewriteabsoluteurl="true"]/>
	<esi:include src="...">
	    <esi:replace fragment="name">...</esi:replace>
	    <esi:replace regexp="...">...</esi:replace>
	</esi:include>
	<esi:try><esi:attempt>...</esi:attempt><esi:except [code="404"]>...</esi:except></esi:try>
	<esi:choose><esi:when test="...">...</esi:when><esi:otherwise>...</esi:otherwise></esi:choose>
	<esi:vars>$(HTTP_HOST)</esi:vars>
	<esi:fragment name="...">...</esi:fragment>
	<esi:inline name="..." fetchable="yes">...</esi:inline>
	<esi:remove>...</esi:remove>
	<esi:comment text="..."/>
	<!--esi ... -->

The source of an include may select another instance with
$(PROVIDER{name}), and may contain any variable of package vars.

The <!--esi marker is removed and opens a comment, and a --> closing an
open comment is removed too. Any other --> is kept as text.
*/
package esi

import (
	"net/http"
	"regexp"

	"github.com/FMHsieh/esigate/parser"
	"github.com/FMHsieh/esigate/resource"
)

var tagPattern = regexp.MustCompile(`<esi:[^>]*>|</esi:[^>]*>|<!--esi|-->`)

type (
	fragmentResult struct{}
	fragmentDepth  struct{}
	commentDepth   struct{}
)

// Options configure the ESI rendering.
type Options struct {

	// InlineCache stores the fragments declared with esi:inline. When
	// nil, a new cache is created.
	InlineCache *InlineCache
}

// Renderer processes the ESI directives of a page.
type Renderer struct {
	inline       *InlineCache
	fragment     string
	replacements map[string]string
	parser       *parser.Parser
}

// discarder is implemented by the elements that drop their content. The
// includes nested in them are not fetched.
type discarder interface {
	discards() bool
}

// New creates an ESI renderer.
func New(o Options) *Renderer {
	if o.InlineCache == nil {
		o.InlineCache = NewInlineCache(0)
	}

	return newRenderer(o.InlineCache, "", nil)
}

func newRenderer(inline *InlineCache, fragment string, replacements map[string]string) *Renderer {
	r := &Renderer{inline: inline, fragment: fragment, replacements: replacements}
	r.parser = parser.New(
		tagPattern,
		&elementType{name: "include", new: func() parser.Element { return &includeElement{r: r} }},
		&elementType{name: "replace", new: func() parser.Element { return &replaceElement{} }},
		&elementType{name: "vars", new: func() parser.Element { return &varsElement{} }},
		&elementType{name: "try", new: func() parser.Element { return &tryElement{} }},
		&elementType{name: "attempt", new: func() parser.Element { return &attemptElement{} }},
		&elementType{name: "except", new: func() parser.Element { return &exceptElement{} }},
		&elementType{name: "choose", new: func() parser.Element { return &chooseElement{} }},
		&elementType{name: "when", new: func() parser.Element { return &whenElement{} }},
		&elementType{name: "otherwise", new: func() parser.Element { return &otherwiseElement{} }},
		&elementType{name: "fragment", new: func() parser.Element { return &fragmentElement{r: r} }},
		&elementType{name: "inline", new: func() parser.Element { return &inlineElement{r: r} }},
		&elementType{name: "remove", new: func() parser.Element { return &removeElement{} }},
		&elementType{name: "comment", new: func() parser.Element { return &removeElement{} }},
		openCommentType{},
		closeCommentType{},
	)

	return r
}

// Render processes the directives of a page. When the renderer extracts
// a fragment and the fragment is not found, it fails with 502.
func (r *Renderer) Render(rc *resource.Context, in string) (string, error) {
	ctx, err := r.parser.ParseContext(rc, in)
	if err != nil {
		return "", err
	}

	if r.fragment == "" {
		return ctx.Output(), nil
	}

	if f, ok := ctx.Value(fragmentResult{}).(string); ok {
		return f, nil
	}

	return "", resource.NewErrorPage(http.StatusBadGateway, "Fragment "+r.fragment+" not found", nil)
}

// Renderer returns the processing as a resource renderer.
func (r *Renderer) Renderer() resource.Renderer { return r.Render }

// InlineCache returns the cache of the inline fragments.
func (r *Renderer) InlineCache() *InlineCache { return r.inline }

func intValue(ctx *parser.Context, key any) int {
	n, _ := ctx.Value(key).(int)
	return n
}

// skipping tells whether the current content is dropped: when
// extracting a fragment outside of it, or inside a discarding element.
func (r *Renderer) skipping(ctx *parser.Context) bool {
	if r.fragment != "" && intValue(ctx, fragmentDepth{}) == 0 {
		return true
	}

	for e := range ctx.Ancestors() {
		if d, ok := e.(discarder); ok && d.discards() {
			return true
		}
	}

	return false
}

func original(ctx *parser.Context) *http.Request {
	return ctx.Resource.Original()
}
