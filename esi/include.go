package esi

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/FMHsieh/esigate/parser"
	"github.com/FMHsieh/esigate/render"
	"github.com/FMHsieh/esigate/resource"
	"github.com/FMHsieh/esigate/vars"
)

const providerPrefix = "$(" + vars.Provider + "{"

type includeElement struct {
	r                    *Renderer
	tag                  *Tag
	fragmentReplacements map[string]string
	regexpReplacements   []render.Rule
}

func (e *includeElement) OnTagStart(_ *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	if t.Attr("src") == "" {
		return false, t.syntaxError("missing src")
	}

	e.tag = t
	return t.Closed, nil
}

// the body only contains replace elements
func (e *includeElement) Characters(*parser.Context, string) {}

func (e *includeElement) OnError(*parser.Context, error) bool { return false }

func (e *includeElement) OnTagEnd(ctx *parser.Context, _ string) error {
	if e.r.skipping(ctx) {
		return nil
	}

	out, err := e.process(ctx, e.tag.Attr("src"))
	if err != nil {
		if alt := e.tag.Attr("alt"); alt != "" {
			ctx.Resource.Log().Debugf("esi include %s failed, trying %s: %v", e.tag.Attr("src"), alt, err)
			out, err = e.process(ctx, alt)
		} else if strings.EqualFold(e.tag.Attr("onerror"), "continue") {
			ctx.Resource.Log().Debugf("esi include %s failed, continuing: %v", e.tag.Attr("src"), err)
			return nil
		}
	}

	if err != nil {
		return err
	}

	for _, r := range e.regexpReplacements {
		out = r.Expr.ReplaceAllString(out, r.Replacement)
	}

	ctx.Characters(out)
	return nil
}

func (e *includeElement) addFragmentReplacement(name, value string) {
	if e.fragmentReplacements == nil {
		e.fragmentReplacements = make(map[string]string)
	}

	e.fragmentReplacements[name] = value
}

func (e *includeElement) addRegexpReplacement(r render.Rule) {
	e.regexpReplacements = append(e.regexpReplacements, r)
}

// splitProvider separates $(PROVIDER{name}) from the rest of the source.
func splitProvider(src string) (provider, page string, ok bool) {
	i := strings.Index(src, providerPrefix)
	if i < 0 {
		return "", src, false
	}

	rest := src[i+len(providerPrefix):]
	end := strings.Index(rest, "})")
	if end < 0 {
		return "", src, false
	}

	return rest[:end], rest[end+2:], true
}

// parseTTL parses the ttl attribute: a number followed by d, h, m or s,
// or a Go duration.
func parseTTL(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, false
	}

	unit := map[byte]time.Duration{'d': 24 * time.Hour, 'h': time.Hour, 'm': time.Minute, 's': time.Second}
	if u, ok := unit[s[len(s)-1]|0x20]; ok {
		if n, err := strconv.ParseInt(s[:len(s)-1], 10, 64); err == nil && n > 0 {
			return time.Duration(n) * u, true
		}
	}

	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}

	return 0, false
}

func (e *includeElement) fetchContext(ctx *parser.Context, src string) (*resource.Context, error) {
	parent := ctx.Resource
	if parent == nil {
		return nil, e.tag.syntaxError("no request to include for")
	}

	p := parent.Provider
	name, page, ok := splitProvider(src)
	if ok {
		if p, ok = parent.Request.Provider(name); !ok {
			return nil, resource.NewErrorPage(http.StatusInternalServerError, "unknown provider "+name, nil)
		}
	}

	if p == nil {
		return nil, e.tag.syntaxError("no provider to include from")
	}

	rc := resource.NewContext(parent.Request, p, vars.Resolve(page, parent.Original()))
	rc.NoStore = strings.EqualFold(e.tag.Attr("no-store"), "on")
	if !rc.NoStore {
		rc.TTL, _ = parseTTL(e.tag.Attr("ttl"))
	}

	if mw, err := strconv.Atoi(strings.TrimSpace(e.tag.Attr("maxwait"))); err == nil && mw > 0 {
		rc.MaxWait = time.Duration(mw) * time.Millisecond
	}

	return rc, nil
}

func (e *includeElement) process(ctx *parser.Context, src string) (string, error) {
	if f, ok := e.r.inline.Get(src); ok {
		return f.Fragment, nil
	}

	rc, err := e.fetchContext(ctx, src)
	if err != nil {
		return "", err
	}

	var renderers []resource.Renderer
	if strings.EqualFold(e.tag.Attr("rewriteabsoluteurl"), "true") {
		renderers = append(renderers, absoluteURLRewriter(rc))
	}

	child := newRenderer(e.r.inline, e.tag.Attr("fragment"), e.fragmentReplacements)
	renderers = append(renderers, child.Render)

	if xp := e.tag.Attr("xpath"); xp != "" {
		r, err := render.XPath(xp)
		if err != nil {
			return "", e.tag.syntaxError(err.Error())
		}

		renderers = append(renderers, r)
	} else if ss := e.tag.Attr("stylesheet"); ss != "" {
		r, err := e.stylesheet(rc, ss)
		if err != nil {
			return "", err
		}

		renderers = append(renderers, r)
	}

	return rc.Provider.Render(rc, renderers...)
}

// the stylesheet is fetched from the same provider as the page
func (e *includeElement) stylesheet(rc *resource.Context, src string) (resource.Renderer, error) {
	src = vars.Resolve(src, rc.Original())
	sc := resource.NewContext(rc.Request, rc.Provider, src)
	text, err := rc.Provider.Render(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stylesheet %s: %w", src, err)
	}

	t, err := render.ParseStylesheet(src, text)
	if err != nil {
		return nil, e.tag.syntaxError(err.Error())
	}

	return render.Stylesheet(t), nil
}

// absoluteURLRewriter rewrites the absolute links to the provider into
// links relative to the root of the gateway.
func absoluteURLRewriter(rc *resource.Context) resource.Renderer {
	return func(frc *resource.Context, in string) (string, error) {
		base := frc.BaseURL
		if base == "" {
			base = rc.Provider.BaseURL(frc)
		}

		var rules []render.Rule
		add := func(from string) {
			u, err := url.Parse(from)
			if err != nil || from == "" {
				return
			}

			q := regexp.QuoteMeta(from)
			p := u.Path
			rules = append(rules,
				render.Rule{Expr: regexp.MustCompile(`href=("|')` + q + `(.*?)("|')`), Replacement: "href=${1}" + p + "${2}${3}"},
				render.Rule{Expr: regexp.MustCompile(`src=("|')` + q + `(.*?)("|')`), Replacement: "src=${1}" + p + "${2}${3}"},
			)
		}

		if visible := rc.Provider.VisibleBaseURL(base); visible != "" && visible != base {
			add(visible)
		}

		add(base)
		return render.Replace(rules...)(frc, in)
	}
}

// replaceElement replaces a fragment or the matches of a regular
// expression in the content of the enclosing include.
type replaceElement struct {
	parser.Buffer
	include *includeElement
	tag     *Tag
}

func (e *replaceElement) OnTagStart(ctx *parser.Context, tag string) (bool, error) {
	t, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	include, ok := ctx.Current().(*includeElement)
	if !ok {
		return false, t.syntaxError("replace must be nested in an include")
	}

	if t.Attr("fragment") == "" && t.Attr("regexp") == "" && t.Attr("expression") == "" {
		return false, t.syntaxError("missing fragment or regexp")
	}

	e.include = include
	e.tag = t
	return t.Closed, nil
}

func (e *replaceElement) OnTagEnd(*parser.Context, string) error {
	if name := e.tag.Attr("fragment"); name != "" {
		e.include.addFragmentReplacement(name, e.String())
		return nil
	}

	expr := e.tag.Attr("regexp")
	if expr == "" {
		expr = e.tag.Attr("expression")
	}

	r, err := render.NewRule(expr, e.String())
	if err != nil {
		return e.tag.syntaxError(err.Error())
	}

	e.include.addRegexpReplacement(r)
	return nil
}
