package render

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/FMHsieh/esigate/resource"
)

// Node is an HTML node passed to the stylesheets.
type Node struct {
	n *html.Node
}

// Find selects the nodes under n.
func (n Node) Find(expr string) ([]Node, error) {
	nodes, err := htmlquery.QueryAll(n.n, strings.ReplaceAll(expr, "html:", ""))
	if err != nil {
		return nil, err
	}

	found := make([]Node, len(nodes))
	for i, nn := range nodes {
		found[i] = Node{n: nn}
	}

	return found, nil
}

// First selects the first node under n. The zero Node renders empty.
func (n Node) First(expr string) (Node, error) {
	nodes, err := n.Find(expr)
	if err != nil || len(nodes) == 0 {
		return Node{}, err
	}

	return nodes[0], nil
}

// Text returns the text content of the node.
func (n Node) Text() string {
	if n.n == nil {
		return ""
	}

	return htmlquery.InnerText(n.n)
}

// HTML returns the node serialized as HTML.
func (n Node) HTML() string {
	if n.n == nil {
		return ""
	}

	return htmlquery.OutputHTML(n.n, true)
}

// Inner returns the children of the node serialized as HTML.
func (n Node) Inner() string {
	if n.n == nil {
		return ""
	}

	return htmlquery.OutputHTML(n.n, false)
}

// Attr returns the value of an attribute.
func (n Node) Attr(name string) string {
	if n.n == nil {
		return ""
	}

	return htmlquery.SelectAttr(n.n, name)
}

// Name returns the tag name of an element.
func (n Node) Name() string {
	if n.n == nil {
		return ""
	}

	return n.n.Data
}

// ParseStylesheet parses a stylesheet. Stylesheets are text templates
// executed with the parsed page as a Node, e.g.:
//
//	<ul>{{range .Find "//a"}}<li>{{.Attr "href"}}</li>{{end}}</ul>
func ParseStylesheet(name, src string) (*template.Template, error) {
	t, err := template.New(name).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid stylesheet %s: %w", name, err)
	}

	return t, nil
}

// Stylesheet returns a renderer parsing the page as HTML and executing
// the stylesheet with the document node.
func Stylesheet(t *template.Template) resource.Renderer {
	return func(_ *resource.Context, in string) (string, error) {
		doc, err := htmlquery.Parse(strings.NewReader(in))
		if err != nil {
			return "", fmt.Errorf("failed to parse page for stylesheet: %w", err)
		}

		var b strings.Builder
		if err := t.Execute(&b, Node{n: doc}); err != nil {
			return "", fmt.Errorf("failed to apply stylesheet %s: %w", t.Name(), err)
		}

		return b.String(), nil
	}
}
