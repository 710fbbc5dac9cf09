package render

import (
	"strings"

	"go.uber.org/zap"
)

// Attributes exposes recipient fields by name.
type Attributes interface {
	Attr(name string) (string, bool)
}

// Render expands the template for one recipient. It never fails: missing
// fields fall back to their default or to the empty string.
func (t *Template) Render(attrs Attributes) string {
	if t == nil {
		return ""
	}
	locale, _ := attrs.Attr("locale")
	var b strings.Builder
	b.Grow(len(t.src))
	renderNodes(&b, t.nodes, attrs, locale)
	return b.String()
}

func renderNodes(b *strings.Builder, nodes []node, attrs Attributes, locale string) {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			b.WriteString(n.text)
		case fieldNode:
			b.WriteString(fieldValue(n, attrs))
		case *ifNode:
			if evalCond(n, attrs) {
				renderNodes(b, n.then, attrs, locale)
			} else {
				renderNodes(b, n.els, attrs, locale)
			}
		case *langNode:
			if matchAny(n.locales, locale) {
				renderNodes(b, n.body, attrs, locale)
			}
		}
	}
}

func fieldValue(n fieldNode, attrs Attributes) string {
	v, ok := attrs.Attr(n.name)
	if !ok || strings.TrimSpace(v) == "" {
		if n.hasDefault {
			return n.fallback
		}
		return ""
	}
	return v
}

func evalCond(n *ifNode, attrs Attributes) bool {
	v, ok := attrs.Attr(n.field)
	v = strings.TrimSpace(v)
	switch n.op {
	case condPresent:
		return ok && v != ""
	case condNotEquals:
		return !ok || !strings.EqualFold(v, n.value)
	default:
		return ok && strings.EqualFold(v, n.value)
	}
}

// RenderString parses and renders src in one call. A template that fails to
// parse renders as the empty string and is logged.
func RenderString(src string, attrs Attributes, log *zap.Logger) string {
	t, err := Parse(src)
	if err != nil {
		if log != nil {
			log.Warn("template failed to parse", zap.Error(err))
		}
		return ""
	}
	return t.Render(attrs)
}
