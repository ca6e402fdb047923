package esi

import (
	"strings"

	"github.com/FMHsieh/esigate/parser"
	"github.com/FMHsieh/esigate/vars"
)

// chooseElement renders the first when whose test is true, else the
// otherwise.
type chooseElement struct {
	out     strings.Builder
	matched bool
}

func (e *chooseElement) OnTagStart(_ *parser.Context, tag string) (bool, error) {
	_, err := ParseTag(tag)
	return false, err
}

func (e *chooseElement) Characters(*parser.Context, string) {}

func (e *chooseElement) OnError(*parser.Context, error) bool { return false }

func (e *chooseElement) OnTagEnd(ctx *parser.Context, _ string) error {
	ctx.Characters(e.out.String())
	return nil
}

type branch struct {
	parser.Buffer
	choose *chooseElement
	active bool
}

func (b *branch) start(ctx *parser.Context, t *Tag) error {
	choose, ok := ctx.Current().(*chooseElement)
	if !ok {
		return t.syntaxError(t.Name + " must be nested in a choose")
	}

	b.choose = choose
	return nil
}

func (b *branch) OnTagEnd(*parser.Context, string) error {
	if b.active {
		b.choose.out.WriteString(b.String())
	}

	return nil
}

func (b *branch) discards() bool { return !b.active }

type whenElement struct {
	branch
}

func (e *whenElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	if err := e.start(ctx, t); err != nil {
		return false, err
	}

	if !t.Has("test") {
		return false, t.syntaxError("missing test")
	}

	if e.choose.matched {
		return t.Closed, nil
	}

	ok, err := vars.Eval(t.Attr("test"), original(ctx))
	if err != nil {
		return false, t.syntaxError(err.Error())
	}

	e.active = ok
	e.choose.matched = ok
	return t.Closed, nil
}

type otherwiseElement struct {
	branch
}

func (e *otherwiseElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	if err := e.start(ctx, t); err != nil {
		return false, err
	}

	e.active = !e.choose.matched
	e.choose.matched = true
	return t.Closed, nil
}
