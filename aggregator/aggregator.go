/*
Package aggregator implements the comment directives including the
blocks and the templates of other pages:

	<!--$includeblock$provider$page$block$-->fallback<!--$endincludeblock$-->
	<!--$includetemplate$provider$page$template$-->
	  <!--$beginput$param$-->value<!--$endput$-->
	<!--$endincludetemplate$-->

The block and the template names are optional, without them the whole
page is included. The page URL may contain variables, e.g.
$(QUERY_STRING{id}). The included content is aggregated again, so
directives can be nested across pages.
*/
package aggregator

import (
	"net/http"

	"github.com/FMHsieh/esigate/parser"
	"github.com/FMHsieh/esigate/render"
	"github.com/FMHsieh/esigate/resource"
	"github.com/FMHsieh/esigate/vars"
)

var (
	includeBlockType = &parser.CommentType{
		Start: "includeblock",
		End:   "endincludeblock",
		New:   func() parser.Element { return &includeBlockElement{} },
	}

	includeTemplateType = &parser.CommentType{
		Start: "includetemplate",
		End:   "endincludetemplate",
		New:   func() parser.Element { return &includeTemplateElement{params: make(map[string]string)} },
	}

	putType = &parser.CommentType{
		Start: "beginput",
		End:   "endput",
		New:   func() parser.Element { return &putElement{} },
	}

	aggregateParser = parser.New(parser.CommentPattern, includeBlockType, includeTemplateType, putType)
)

// Render aggregates the page.
func Render(rc *resource.Context, in string) (string, error) {
	return aggregateParser.Parse(rc, in)
}

// Renderer returns the aggregation as a renderer.
func Renderer() resource.Renderer { return Render }

type include struct {
	provider resource.Provider
	page     string
	name     string
}

func parseInclude(ctx *parser.Context, tag string) (*include, error) {
	args, err := parser.SplitComment(tag, 2, 3)
	if err != nil {
		return nil, err
	}

	rc := ctx.Resource
	if rc == nil {
		return nil, &parser.SyntaxError{Tag: tag, Reason: "no request to include for"}
	}

	p, ok := rc.Request.Provider(args[0])
	if !ok {
		return nil, resource.NewErrorPage(http.StatusInternalServerError, "unknown provider "+args[0], nil)
	}

	inc := &include{provider: p, page: vars.Resolve(args[1], rc.Original())}
	if len(args) == 3 {
		inc.name = args[2]
	}

	return inc, nil
}

func (inc *include) render(ctx *parser.Context, renderer resource.Renderer) error {
	rc := resource.NewContext(ctx.Resource.Request, inc.provider, inc.page)
	out, err := inc.provider.Render(rc, renderer, Render)
	if err != nil {
		return err
	}

	ctx.Characters(out)
	return nil
}

// the body of the include elements is a placeholder, it is dropped
type includeBlockElement struct {
	inc *include
}

func (e *includeBlockElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	inc, err := parseInclude(ctx, tag)
	e.inc = inc
	return false, err
}

func (e *includeBlockElement) OnTagEnd(ctx *parser.Context, _ string) error {
	var r resource.Renderer
	if e.inc.name != "" {
		r = render.Block(e.inc.name)
	}

	return e.inc.render(ctx, r)
}

func (e *includeBlockElement) OnError(*parser.Context, error) bool { return false }
func (e *includeBlockElement) Characters(*parser.Context, string)  {}

type includeTemplateElement struct {
	inc    *include
	params map[string]string
}

func (e *includeTemplateElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	inc, err := parseInclude(ctx, tag)
	e.inc = inc
	return false, err
}

func (e *includeTemplateElement) OnTagEnd(ctx *parser.Context, _ string) error {
	return e.inc.render(ctx, render.Template(e.inc.name, e.params))
}

func (e *includeTemplateElement) OnError(*parser.Context, error) bool { return false }
func (e *includeTemplateElement) Characters(*parser.Context, string)  {}

// AddParam sets the value of a template parameter.
func (e *includeTemplateElement) AddParam(name, value string) {
	e.params[name] = value
}

type putElement struct {
	parser.Buffer
	name   string
	parent *includeTemplateElement
}

func (e *putElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	args, err := parser.SplitComment(tag, 1)
	if err != nil {
		return false, err
	}

	parent, ok := ctx.FindAncestor(includeTemplateType).(*includeTemplateElement)
	if !ok {
		return false, &parser.SyntaxError{Tag: tag, Reason: "put must be nested in an includetemplate"}
	}

	e.name = args[0]
	e.parent = parent
	return false, nil
}

func (e *putElement) OnTagEnd(*parser.Context, string) error {
	e.parent.AddParam(e.name, e.String())
	return nil
}
