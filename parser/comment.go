package parser

import (
	"regexp"
	"strings"
)

// CommentPattern matches the comment directives, e.g.
// <!--$beginblock$myblock$-->.
var CommentPattern = regexp.MustCompile(`<!--\$[^>]*?\$-->`)

// CommentType recognizes the comment directives of one kind, e.g.
// beginblock and endblock.
type CommentType struct {
	Start string
	End   string
	New   func() Element
}

func (t *CommentType) IsStartTag(tag string) bool {
	return strings.HasPrefix(tag, "<!--$"+t.Start+"$")
}

func (t *CommentType) IsEndTag(tag string) bool {
	return t.End != "" && strings.HasPrefix(tag, "<!--$"+t.End+"$")
}

func (t *CommentType) NewInstance() Element { return t.New() }

// splits at the $ signs, except the ones starting a variable
func splitArgs(s string) []string {
	var (
		args  []string
		start int
	)

	for i := 0; i < len(s); i++ {
		if s[i] == '$' && (i+1 >= len(s) || s[i+1] != '(') {
			args = append(args, s[start:i])
			start = i + 1
		}
	}

	return append(args, s[start:])
}

// SplitComment returns the arguments of a comment directive, without the
// leading kind. The number of arguments must be one of counts.
//
//	<!--$includeblock$provider$page$block$--> => [provider page block]
func SplitComment(tag string, counts ...int) ([]string, error) {
	inner, ok := strings.CutPrefix(tag, "<!--$")
	if ok {
		inner, ok = strings.CutSuffix(inner, "$-->")
	}

	if !ok {
		return nil, &SyntaxError{Tag: tag, Reason: "invalid comment directive"}
	}

	args := splitArgs(inner)[1:]
	for _, c := range counts {
		if len(args) == c {
			return args, nil
		}
	}

	return nil, &SyntaxError{Tag: tag, Reason: "invalid number of arguments"}
}
