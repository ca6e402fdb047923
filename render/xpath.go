package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"

	"github.com/FMHsieh/esigate/resource"
)

// XPath returns a renderer parsing the page as HTML and writing the
// result of the expression: the selected nodes serialized as HTML, or
// the value of a string, number or boolean expression. The html: prefix
// of the XHTML namespace is ignored, HTML elements have no namespace
// after parsing.
func XPath(expr string) (resource.Renderer, error) {
	compiled, err := xpath.Compile(strings.ReplaceAll(expr, "html:", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}

	return func(_ *resource.Context, in string) (string, error) {
		doc, err := htmlquery.Parse(strings.NewReader(in))
		if err != nil {
			return "", fmt.Errorf("failed to parse page for xpath: %w", err)
		}

		return evaluate(compiled, htmlquery.CreateXPathNavigator(doc)), nil
	}, nil
}

func evaluate(expr *xpath.Expr, nav *htmlquery.NodeNavigator) string {
	switch v := expr.Evaluate(nav).(type) {
	case *xpath.NodeIterator:
		var b strings.Builder
		for v.MoveNext() {
			n, ok := v.Current().(*htmlquery.NodeNavigator)
			if !ok {
				continue
			}

			if n.NodeType() == xpath.AttributeNode {
				b.WriteString(n.Value())
				continue
			}

			b.WriteString(htmlquery.OutputHTML(n.Current(), true))
		}

		return b.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
