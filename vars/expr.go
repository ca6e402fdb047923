package vars

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ExprError is returned when a test expression cannot be parsed.
type ExprError struct {
	Expr   string
	Pos    int
	Reason string
}

func (e *ExprError) Error() string {
	return fmt.Sprintf("invalid expression %q at %d: %s", e.Expr, e.Pos, e.Reason)
}

type tokenType int

const (
	tokEOF tokenType = iota
	tokValue
	tokOp
	tokNot
	tokAnd
	tokOr
	tokOpen
	tokClose
)

type token struct {
	typ tokenType
	val string
	pos int
}

type exprParser struct {
	expr   string
	tokens []token
	pos    int
}

// Eval evaluates an ESI test expression, as used by the when element.
// Operands are variables, quoted strings, numbers or the words true and
// false. Operators are ==, !=, <, <=, >, >=, &&, || and !, with
// parentheses for grouping. Operands are compared as numbers when both
// are numbers, otherwise as strings. A lone operand is true unless it is
// empty, false or 0.
func Eval(expr string, r *http.Request) (bool, error) {
	tokens, err := tokenize(expr, r)
	if err != nil {
		return false, err
	}

	p := &exprParser{expr: expr, tokens: tokens}
	v, err := p.or()
	if err != nil {
		return false, err
	}

	if t := p.peek(); t.typ != tokEOF {
		return false, p.fail(t, "unexpected "+t.val)
	}

	return v, nil
}

func tokenize(expr string, r *http.Request) ([]token, error) {
	var tokens []token
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '$':
			loc := variableExp.FindStringIndex(expr[i:])
			if loc == nil || loc[0] != 0 {
				return nil, &ExprError{Expr: expr, Pos: i, Reason: "invalid variable"}
			}

			tokens = append(tokens, token{typ: tokValue, val: Resolve(expr[i:i+loc[1]], r), pos: i})
			i += loc[1]
		case c == '\'' || c == '"':
			end := strings.IndexByte(expr[i+1:], c)
			if end < 0 {
				return nil, &ExprError{Expr: expr, Pos: i, Reason: "unterminated string"}
			}

			tokens = append(tokens, token{typ: tokValue, val: expr[i+1 : i+1+end], pos: i})
			i += end + 2
		case c == '(':
			tokens = append(tokens, token{typ: tokOpen, val: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{typ: tokClose, val: ")", pos: i})
			i++
		case strings.HasPrefix(expr[i:], "&&"):
			tokens = append(tokens, token{typ: tokAnd, val: "&&", pos: i})
			i += 2
		case strings.HasPrefix(expr[i:], "||"):
			tokens = append(tokens, token{typ: tokOr, val: "||", pos: i})
			i += 2
		case strings.HasPrefix(expr[i:], "=="), strings.HasPrefix(expr[i:], "!="),
			strings.HasPrefix(expr[i:], "<="), strings.HasPrefix(expr[i:], ">="):
			tokens = append(tokens, token{typ: tokOp, val: expr[i : i+2], pos: i})
			i += 2
		case c == '<' || c == '>':
			tokens = append(tokens, token{typ: tokOp, val: expr[i : i+1], pos: i})
			i++
		case c == '!':
			tokens = append(tokens, token{typ: tokNot, val: "!", pos: i})
			i++
		default:
			start := i
			for i < len(expr) && isWordChar(expr[i]) {
				i++
			}

			if start == i {
				return nil, &ExprError{Expr: expr, Pos: i, Reason: fmt.Sprintf("unexpected character %q", c)}
			}

			tokens = append(tokens, token{typ: tokValue, val: expr[start:i], pos: start})
		}
	}

	return append(tokens, token{typ: tokEOF, pos: len(expr)}), nil
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '.' || c == '-' || c == '_'
}

func (p *exprParser) peek() token { return p.tokens[p.pos] }

func (p *exprParser) next() token {
	t := p.tokens[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}

	return t
}

func (p *exprParser) fail(t token, reason string) error {
	return &ExprError{Expr: p.expr, Pos: t.pos, Reason: reason}
}

func (p *exprParser) or() (bool, error) {
	v, err := p.and()
	if err != nil {
		return false, err
	}

	for p.peek().typ == tokOr {
		p.next()
		w, err := p.and()
		if err != nil {
			return false, err
		}

		v = v || w
	}

	return v, nil
}

func (p *exprParser) and() (bool, error) {
	v, err := p.unary()
	if err != nil {
		return false, err
	}

	for p.peek().typ == tokAnd {
		p.next()
		w, err := p.unary()
		if err != nil {
			return false, err
		}

		v = v && w
	}

	return v, nil
}

func (p *exprParser) unary() (bool, error) {
	switch t := p.peek(); t.typ {
	case tokNot:
		p.next()
		v, err := p.unary()
		return !v, err
	case tokOpen:
		p.next()
		v, err := p.or()
		if err != nil {
			return false, err
		}

		if c := p.next(); c.typ != tokClose {
			return false, p.fail(c, "missing )")
		}

		return v, nil
	case tokValue:
		return p.comparison()
	default:
		return false, p.fail(t, "operand expected")
	}
}

func (p *exprParser) comparison() (bool, error) {
	left := p.next()
	if p.peek().typ != tokOp {
		return truthy(left.val), nil
	}

	op := p.next()
	right := p.next()
	if right.typ != tokValue {
		return false, p.fail(right, "operand expected after "+op.val)
	}

	return compare(left.val, op.val, right.val), nil
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "", "false", "0":
		return false
	default:
		return true
	}
}

func compare(left, op, right string) bool {
	var c int
	lf, lerr := strconv.ParseFloat(left, 64)
	rf, rerr := strconv.ParseFloat(right, 64)
	if lerr == nil && rerr == nil {
		switch {
		case lf < rf:
			c = -1
		case lf > rf:
			c = 1
		}
	} else {
		c = strings.Compare(left, right)
	}

	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	default:
		return c >= 0
	}
}
