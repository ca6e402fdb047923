package render

import (
	"github.com/FMHsieh/esigate/parser"
	"github.com/FMHsieh/esigate/resource"
)

type blockResult struct{}

type blockElement struct {
	parser.Buffer
	target string
	match  bool
}

func newBlockParser(target string) *parser.Parser {
	blockType := &parser.CommentType{
		Start: "beginblock",
		End:   "endblock",
		New:   func() parser.Element { return &blockElement{target: target} },
	}

	return parser.New(parser.CommentPattern, blockType)
}

func (e *blockElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	args, err := parser.SplitComment(tag, 1)
	if err != nil {
		return false, err
	}

	e.match = args[0] == e.target && ctx.Value(blockResult{}) == nil
	return false, nil
}

func (e *blockElement) Characters(ctx *parser.Context, s string) {
	if e.match {
		e.WriteString(s)
		return
	}

	ctx.Parent(s)
}

func (e *blockElement) OnTagEnd(ctx *parser.Context, tag string) error {
	if e.match {
		ctx.SetValue(blockResult{}, e.String())
	}

	return nil
}

// Block returns a renderer extracting the named block. The nested block
// markers are removed. When the block is not found, the output is empty.
func Block(name string) resource.Renderer {
	p := newBlockParser(name)
	return func(rc *resource.Context, in string) (string, error) {
		var out string
		ctx, err := p.ParseContext(rc, in)
		if err != nil {
			return "", err
		}

		if b, ok := ctx.Value(blockResult{}).(string); ok {
			out = b
		} else {
			rc.Log().Debugf("block %s not found in %s", name, relURL(rc))
		}

		return out, nil
	}
}

func relURL(rc *resource.Context) string {
	if rc == nil {
		return ""
	}

	return rc.RelURL
}
