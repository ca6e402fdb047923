package parser

type unknownType struct{}

type unknownElement struct{}

// Unknown is the type of the tags that no element type claims. Its
// elements echo the tag.
var Unknown ElementType = unknownType{}

func (unknownType) IsStartTag(string) bool { return true }
func (unknownType) IsEndTag(string) bool   { return false }
func (unknownType) NewInstance() Element   { return unknownElement{} }

func (unknownElement) OnTagStart(ctx *Context, tag string) (bool, error) {
	ctx.Characters(tag)
	return true, nil
}

func (unknownElement) OnTagEnd(*Context, string) error { return nil }
func (unknownElement) OnError(*Context, error) bool    { return false }
func (unknownElement) Characters(*Context, string)     {}
