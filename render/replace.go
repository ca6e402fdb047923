package render

import (
	"fmt"
	"regexp"

	"github.com/FMHsieh/esigate/resource"
)

// Rule replaces every match of a regular expression. The replacement
// may refer to the groups with $1 or ${name}.
type Rule struct {
	Expr        *regexp.Regexp
	Replacement string
}

// NewRule compiles a replace rule.
func NewRule(expr, replacement string) (Rule, error) {
	rx, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid replace rule %q: %w", expr, err)
	}

	return Rule{Expr: rx, Replacement: replacement}, nil
}

// Replace returns a renderer applying the rules in order.
func Replace(rules ...Rule) resource.Renderer {
	return func(_ *resource.Context, in string) (string, error) {
		for _, r := range rules {
			in = r.Expr.ReplaceAllString(in, r.Replacement)
		}

		return in, nil
	}
}
