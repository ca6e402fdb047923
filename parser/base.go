package parser

import "strings"

// PrefixType is an element type recognizing its tags by their start.
// When EndPrefix is empty, the elements never get an end tag.
type PrefixType struct {
	StartPrefix string
	EndPrefix   string
	New         func() Element
}

func (t *PrefixType) IsStartTag(tag string) bool {
	return strings.HasPrefix(tag, t.StartPrefix) && !t.IsEndTag(tag)
}

func (t *PrefixType) IsEndTag(tag string) bool {
	return t.EndPrefix != "" && strings.HasPrefix(tag, t.EndPrefix)
}

func (t *PrefixType) NewInstance() Element { return t.New() }

// Buffer is an element accumulating its body. It can be embedded by
// elements that process their content on close.
type Buffer struct {
	strings.Builder
}

func (b *Buffer) Characters(_ *Context, s string) { b.WriteString(s) }
func (b *Buffer) OnError(*Context, error) bool    { return false }

// Transparent is an element passing its body to its parent.
type Transparent struct{}

func (Transparent) Characters(ctx *Context, s string) { ctx.Parent(s) }
func (Transparent) OnError(*Context, error) bool      { return false }
func (Transparent) OnTagEnd(*Context, string) error   { return nil }
