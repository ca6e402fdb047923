/*
Package parser implements the single pass, stack based parser driving
the directive elements.

A Parser is built from a regular expression matching the tags and an
ordered list of element types. The text between the tags is passed to
the element on the top of the stack, or to the output when the stack is
empty. Tags that no element type claims are echoed unchanged.
*/
package parser

import (
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/FMHsieh/esigate/resource"
)

// ElementType recognizes the tags of one directive.
type ElementType interface {
	IsStartTag(tag string) bool
	IsEndTag(tag string) bool
	NewInstance() Element
}

// Element is one open directive instance during a parse pass.
type Element interface {

	// OnTagStart is called with the start tag. When closed is true,
	// the element is not pushed on the stack and OnTagEnd is called
	// right away.
	OnTagStart(ctx *Context, tag string) (closed bool, err error)

	// OnTagEnd is called with the end tag, after the element was
	// removed from the stack.
	OnTagEnd(ctx *Context, tag string) error

	// OnError is called with the errors raised in the subtree of the
	// element. Returning true swallows the error.
	OnError(ctx *Context, err error) bool

	// Characters receives the text and the output of the child
	// elements.
	Characters(ctx *Context, s string)
}

// SyntaxError is returned for malformed or mismatched tags.
type SyntaxError struct {
	Tag    string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Tag)
}

// Parser parses text into a string, dispatching the matched tags to the
// element types. A Parser is safe for concurrent use.
type Parser struct {
	pattern *regexp.Regexp
	types   []ElementType
}

type openElement struct {
	typ     ElementType
	element Element
	tag     string
}

// Context is the state of one parse pass.
type Context struct {
	// Resource is the fetch context of the parsed page.
	Resource *resource.Context

	stack   []openElement
	out     strings.Builder
	state   map[any]any
	level   int
	writing int
}

// New creates a parser. The element types are tried in order.
func New(pattern *regexp.Regexp, types ...ElementType) *Parser {
	return &Parser{pattern: pattern, types: types}
}

// Parse runs a parse pass over the input.
func (p *Parser) Parse(rc *resource.Context, in string) (string, error) {
	ctx, err := p.ParseContext(rc, in)
	if err != nil {
		return "", err
	}

	return ctx.Output(), nil
}

// ParseContext runs a parse pass and returns its final state, giving
// access to the values stored by the elements.
func (p *Parser) ParseContext(rc *resource.Context, in string) (*Context, error) {
	ctx := &Context{Resource: rc}
	ctx.out.Grow(len(in))

	var last int
	for _, m := range p.pattern.FindAllStringIndex(in, -1) {
		if m[0] > last {
			ctx.Characters(in[last:m[0]])
		}

		last = m[1]
		if err := p.tag(ctx, in[m[0]:m[1]]); err != nil {
			if !ctx.ReportError(err) {
				return nil, err
			}
		}
	}

	if last < len(in) {
		ctx.Characters(in[last:])
	}

	if len(ctx.stack) > 0 {
		return nil, &SyntaxError{Tag: ctx.stack[len(ctx.stack)-1].tag, Reason: "unclosed element"}
	}

	return ctx, nil
}

// Output returns the text written outside of the elements.
func (ctx *Context) Output() string {
	return ctx.out.String()
}

func (p *Parser) tag(ctx *Context, tag string) error {
	if n := len(ctx.stack); n > 0 && ctx.stack[n-1].typ.IsEndTag(tag) {
		top := ctx.stack[n-1]
		ctx.stack = ctx.stack[:n-1]
		return top.element.OnTagEnd(ctx, tag)
	}

	for _, t := range p.types {
		if t.IsStartTag(tag) {
			return ctx.start(t, tag)
		}
	}

	for _, t := range p.types {
		if t.IsEndTag(tag) {
			return &SyntaxError{Tag: tag, Reason: "unexpected end tag"}
		}
	}

	return ctx.start(Unknown, tag)
}

func (ctx *Context) start(t ElementType, tag string) error {
	e := t.NewInstance()
	closed, err := e.OnTagStart(ctx, tag)
	if err != nil {
		return err
	}

	if closed {
		return e.OnTagEnd(ctx, tag)
	}

	ctx.stack = append(ctx.stack, openElement{typ: t, element: e, tag: tag})
	return nil
}

// Characters writes to the element on the top of the stack, or to the
// output.
func (ctx *Context) Characters(s string) {
	ctx.write(len(ctx.stack)-1, s)
}

// Parent writes to the element below the one receiving the current
// text, or to the output. Elements use it in Characters to pass their
// body through.
func (ctx *Context) Parent(s string) {
	if ctx.writing == 0 {
		ctx.Characters(s)
		return
	}

	ctx.write(ctx.level-1, s)
}

func (ctx *Context) write(i int, s string) {
	if s == "" {
		return
	}

	if i < 0 {
		ctx.out.WriteString(s)
		return
	}

	prev := ctx.level
	ctx.level = i
	ctx.writing++
	ctx.stack[i].element.Characters(ctx, s)
	ctx.writing--
	ctx.level = prev
}

// Current returns the element on the top of the stack, or nil.
func (ctx *Context) Current() Element {
	if n := len(ctx.stack); n > 0 {
		return ctx.stack[n-1].element
	}

	return nil
}

// FindAncestor returns the closest open element of type t.
func (ctx *Context) FindAncestor(t ElementType) Element {
	for i := len(ctx.stack) - 1; i >= 0; i-- {
		if ctx.stack[i].typ == t {
			return ctx.stack[i].element
		}
	}

	return nil
}

// Ancestors iterates over the open elements, top down.
func (ctx *Context) Ancestors() iter.Seq[Element] {
	return func(yield func(Element) bool) {
		for i := len(ctx.stack) - 1; i >= 0; i-- {
			if !yield(ctx.stack[i].element) {
				return
			}
		}
	}
}

// Ancestor returns the closest open element of type T.
func Ancestor[T Element](ctx *Context) (T, bool) {
	for e := range ctx.Ancestors() {
		if t, ok := e.(T); ok {
			return t, true
		}
	}

	var zero T
	return zero, false
}

// ReportError offers err to the open elements, top down. It returns
// true when an element swallowed it.
func (ctx *Context) ReportError(err error) bool {
	for i := len(ctx.stack) - 1; i >= 0; i-- {
		if ctx.stack[i].element.OnError(ctx, err) {
			return true
		}
	}

	return false
}

// Value returns a value stored for the parse pass.
func (ctx *Context) Value(key any) any {
	return ctx.state[key]
}

// SetValue stores a value for the rest of the parse pass.
func (ctx *Context) SetValue(key, value any) {
	if ctx.state == nil {
		ctx.state = make(map[any]any)
	}

	ctx.state[key] = value
}
