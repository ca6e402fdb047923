package render

import (
	"github.com/FMHsieh/esigate/parser"
	"github.com/FMHsieh/esigate/resource"
)

type templateResult struct{}

type templateElement struct {
	parser.Buffer
	target string
	match  bool
}

type paramElement struct {
	parser.Buffer
	params map[string]string
	name   string
}

func newTemplateParser(target string, params map[string]string) *parser.Parser {
	templateType := &parser.CommentType{
		Start: "begintemplate",
		End:   "endtemplate",
		New:   func() parser.Element { return &templateElement{target: target} },
	}

	paramType := &parser.CommentType{
		Start: "beginparam",
		End:   "endparam",
		New:   func() parser.Element { return &paramElement{params: params} },
	}

	return parser.New(parser.CommentPattern, templateType, paramType)
}

func (e *templateElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	args, err := parser.SplitComment(tag, 1)
	if err != nil {
		return false, err
	}

	e.match = e.target != "" && args[0] == e.target && ctx.Value(templateResult{}) == nil
	return false, nil
}

func (e *templateElement) Characters(ctx *parser.Context, s string) {
	if e.match {
		e.WriteString(s)
		return
	}

	ctx.Parent(s)
}

func (e *templateElement) OnTagEnd(ctx *parser.Context, _ string) error {
	if e.match {
		ctx.SetValue(templateResult{}, e.String())
	}

	return nil
}

func (e *paramElement) OnTagStart(_ *parser.Context, tag string) (bool, error) {
	args, err := parser.SplitComment(tag, 1)
	if err != nil {
		return false, err
	}

	e.name = args[0]
	return false, nil
}

func (e *paramElement) OnTagEnd(ctx *parser.Context, _ string) error {
	if v, ok := e.params[e.name]; ok {
		ctx.Characters(v)
		return nil
	}

	ctx.Characters(e.String())
	return nil
}

// Template returns a renderer extracting the named template and
// replacing its parameters. With an empty name, the whole page is the
// template. Parameters without a value keep their default content. A
// named template that is not found renders empty.
func Template(name string, params map[string]string) resource.Renderer {
	p := newTemplateParser(name, params)
	return func(rc *resource.Context, in string) (string, error) {
		ctx, err := p.ParseContext(rc, in)
		if err != nil {
			return "", err
		}

		if name == "" {
			return ctx.Output(), nil
		}

		if t, ok := ctx.Value(templateResult{}).(string); ok {
			return t, nil
		}

		rc.Log().Debugf("template %s not found in %s", name, relURL(rc))
		return "", nil
	}
}
