package esi

import (
	"strconv"
	"strings"

	"github.com/FMHsieh/esigate/parser"
	"github.com/FMHsieh/esigate/resource"
)

// tryElement renders the output of its attempt, or when the attempt
// failed, the first except matching the status code of the failure, else
// the first except without code. When there are excepts but none
// matches, the failure is raised again. Without excepts, a failed try
// renders nothing.
type tryElement struct {
	attempt    strings.Builder
	err        error
	hasExcept  bool
	matched    bool
	matchOut   string
	defaultSet bool
	defaultOut string
}

func (e *tryElement) OnTagStart(_ *parser.Context, tag string) (bool, error) {
	_, err := ParseTag(tag)
	return false, err
}

// the text between the attempt and the excepts is dropped
func (e *tryElement) Characters(*parser.Context, string) {}

func (e *tryElement) OnError(*parser.Context, error) bool { return false }

func (e *tryElement) OnTagEnd(ctx *parser.Context, _ string) error {
	switch {
	case e.err == nil:
		ctx.Characters(e.attempt.String())
	case e.matched:
		ctx.Characters(e.matchOut)
	case e.defaultSet:
		ctx.Characters(e.defaultOut)
	case e.hasExcept:
		return e.err
	}

	return nil
}

func (e *tryElement) failed() bool { return e.err != nil }

type attemptElement struct {
	parser.Buffer
	try *tryElement
}

func (e *attemptElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	try, ok := parser.Ancestor[*tryElement](ctx)
	if !ok {
		return false, t.syntaxError("attempt must be nested in a try")
	}

	e.try = try
	return false, nil
}

// OnError records the first failure on the try and swallows it.
func (e *attemptElement) OnError(ctx *parser.Context, err error) bool {
	if e.try.err == nil {
		e.try.err = err
		ctx.Resource.Log().Debugf("esi attempt failed: %v", err)
	}

	return true
}

func (e *attemptElement) OnTagEnd(ctx *parser.Context, _ string) error {
	// a nested attempt writes to the enclosing one
	if _, ok := ctx.Current().(*attemptElement); ok {
		ctx.Characters(e.String())
		return nil
	}

	e.try.attempt.WriteString(e.String())
	return nil
}

func (e *attemptElement) discards() bool { return e.try.failed() }

type exceptElement struct {
	parser.Buffer
	try    *tryElement
	active bool
	code   int
}

func (e *exceptElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	try, ok := ctx.Current().(*tryElement)
	if !ok {
		return false, t.syntaxError("except must be nested in a try")
	}

	if c := t.Attr("code"); c != "" {
		if e.code, err = strconv.Atoi(strings.TrimSpace(c)); err != nil {
			return false, t.syntaxError("invalid except code")
		}
	}

	e.try = try
	try.hasExcept = true
	if try.failed() {
		if e.code == 0 {
			e.active = !try.defaultSet && !try.matched
		} else {
			e.active = !try.matched && e.code == resource.StatusCode(try.err)
		}
	}

	return t.Closed, nil
}

func (e *exceptElement) OnTagEnd(*parser.Context, string) error {
	if !e.active {
		return nil
	}

	if e.code == 0 {
		e.try.defaultSet = true
		e.try.defaultOut = e.String()
		return nil
	}

	e.try.matched = true
	e.try.matchOut = e.String()
	return nil
}

func (e *exceptElement) discards() bool { return !e.active }
