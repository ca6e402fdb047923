package esi

import (
	"regexp"
	"strings"

	"github.com/FMHsieh/esigate/parser"
)

var (
	tagNameExp   = regexp.MustCompile(`^</?esi:([A-Za-z]+)`)
	attributeExp = regexp.MustCompile(`([A-Za-z_][\w:.-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Tag is a parsed ESI tag.
type Tag struct {
	Name   string
	Attrs  map[string]string
	Closed bool
	End    bool
	raw    string
}

// ParseTag parses an ESI start or end tag.
func ParseTag(s string) (*Tag, error) {
	m := tagNameExp.FindStringSubmatch(s)
	if m == nil || !strings.HasSuffix(s, ">") {
		return nil, &parser.SyntaxError{Tag: s, Reason: "invalid esi tag"}
	}

	t := &Tag{
		Name:   m[1],
		Attrs:  make(map[string]string),
		Closed: strings.HasSuffix(s, "/>"),
		End:    strings.HasPrefix(s, "</"),
		raw:    s,
	}

	for _, a := range attributeExp.FindAllStringSubmatch(s[len(m[0]):], -1) {
		v := a[2]
		if v == "" {
			v = a[3]
		}

		t.Attrs[a[1]] = v
	}

	return t, nil
}

// Attr returns the value of an attribute, or the empty string.
func (t *Tag) Attr(name string) string { return t.Attrs[name] }

// Has tells whether the attribute is set.
func (t *Tag) Has(name string) bool {
	_, ok := t.Attrs[name]
	return ok
}

func (t *Tag) String() string { return t.raw }

func (t *Tag) syntaxError(reason string) error {
	return &parser.SyntaxError{Tag: t.raw, Reason: reason}
}

// elementType recognizes the tags <esi:name ...> and </esi:name>.
type elementType struct {
	name string
	new  func() parser.Element
}

func isNameEnd(tag string, i int) bool {
	if i >= len(tag) {
		return false
	}

	switch tag[i] {
	case ' ', '\t', '\r', '\n', '/', '>':
		return true
	default:
		return false
	}
}

func (t *elementType) IsStartTag(tag string) bool {
	p := "<esi:" + t.name
	return strings.HasPrefix(tag, p) && isNameEnd(tag, len(p))
}

func (t *elementType) IsEndTag(tag string) bool {
	p := "</esi:" + t.name
	return strings.HasPrefix(tag, p) && isNameEnd(tag, len(p))
}

func (t *elementType) NewInstance() parser.Element { return t.new() }
