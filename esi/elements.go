package esi

import (
	"github.com/FMHsieh/esigate/parser"
	"github.com/FMHsieh/esigate/vars"
)

type varsElement struct {
	parser.Buffer
}

func (e *varsElement) OnTagStart(_ *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	return t.Closed, nil
}

func (e *varsElement) OnTagEnd(ctx *parser.Context, _ string) error {
	ctx.Characters(vars.Resolve(e.String(), original(ctx)))
	return nil
}

// removeElement drops its content, for esi:remove and esi:comment.
type removeElement struct{}

func (removeElement) OnTagStart(_ *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	return t.Closed, nil
}

func (removeElement) OnTagEnd(*parser.Context, string) error { return nil }
func (removeElement) OnError(*parser.Context, error) bool    { return false }
func (removeElement) Characters(*parser.Context, string)     {}
func (removeElement) discards() bool                         { return true }

type fragmentElement struct {
	parser.Buffer
	r           *Renderer
	name        string
	target      bool
	replacement string
	replaced    bool
}

func (e *fragmentElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	e.name = t.Attr("name")
	e.replacement, e.replaced = e.r.replacements[e.name]
	if e.r.fragment != "" && e.name == e.r.fragment && ctx.Value(fragmentResult{}) == nil {
		e.target = true
		ctx.SetValue(fragmentDepth{}, intValue(ctx, fragmentDepth{})+1)
	}

	return t.Closed, nil
}

func (e *fragmentElement) Characters(ctx *parser.Context, s string) {
	switch {
	case e.replaced:
	case e.target:
		e.WriteString(s)
	default:
		ctx.Parent(s)
	}
}

func (e *fragmentElement) OnTagEnd(ctx *parser.Context, _ string) error {
	content := e.String()
	if e.replaced {
		content = e.replacement
	}

	if e.target {
		ctx.SetValue(fragmentDepth{}, intValue(ctx, fragmentDepth{})-1)
		ctx.SetValue(fragmentResult{}, content)
		return nil
	}

	if e.replaced {
		ctx.Characters(content)
	}

	return nil
}

func (e *fragmentElement) discards() bool { return e.replaced }

type (
	openCommentType  struct{}
	closeCommentType struct{}
	openComment      struct{}
	closeComment     struct{}
)

func (openCommentType) IsStartTag(tag string) bool          { return tag == "<!--esi" }
func (openCommentType) IsEndTag(string) bool                { return false }
func (openCommentType) NewInstance() parser.Element         { return openComment{} }
func (closeCommentType) IsStartTag(tag string) bool         { return tag == "-->" }
func (closeCommentType) IsEndTag(string) bool               { return false }
func (closeCommentType) NewInstance() parser.Element        { return closeComment{} }
func (openComment) OnTagEnd(*parser.Context, string) error  { return nil }
func (openComment) OnError(*parser.Context, error) bool     { return false }
func (openComment) Characters(*parser.Context, string)      {}
func (closeComment) OnTagEnd(*parser.Context, string) error { return nil }
func (closeComment) OnError(*parser.Context, error) bool    { return false }
func (closeComment) Characters(*parser.Context, string)     {}

func (openComment) OnTagStart(ctx *parser.Context, _ string) (bool, error) {
	ctx.SetValue(commentDepth{}, intValue(ctx, commentDepth{})+1)
	return true, nil
}

func (closeComment) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	n := intValue(ctx, commentDepth{})
	if n == 0 {
		ctx.Characters(tag)
		return true, nil
	}

	ctx.SetValue(commentDepth{}, n-1)
	return true, nil
}
