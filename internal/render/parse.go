// Package render expands message templates against recipient attributes.
//
// Supported syntax:
//
//	{{field}}                      value of field
//	{{field|fallback}}             fallback when field is missing or blank
//	{{#if field=value}}A{{else}}B{{/if}}
//	{{#if field!=value}}...{{/if}}
//	{{#if field}}...{{/if}}        field is present and not blank
//	{{#lang ar}}...{{/lang}}       kept only for recipients whose locale has the ar prefix
//
// Blocks nest arbitrarily. Values are inserted verbatim and never re-parsed.
package render

import (
	"fmt"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

type node interface{ isNode() }

type textNode struct{ text string }

type fieldNode struct {
	name       string
	fallback   string
	hasDefault bool
}

type condOp int

const (
	condEquals condOp = iota
	condNotEquals
	condPresent
)

type ifNode struct {
	field string
	op    condOp
	value string
	then  []node
	els   []node
}

type langNode struct {
	locales []string
	body    []node
}

func (textNode) isNode()  {}
func (fieldNode) isNode() {}
func (*ifNode) isNode()   {}
func (*langNode) isNode() {}

// Template is a parsed template, safe for concurrent use.
type Template struct {
	src   string
	nodes []node
}

// Source returns the text the template was parsed from.
func (t *Template) Source() string { return t.src }

type tagKind int

const (
	tagField tagKind = iota
	tagIf
	tagElse
	tagEndIf
	tagLang
	tagEndLang
)

type token struct {
	text  string // literal text when !isTag
	isTag bool
	kind  tagKind
	arg   string
	pos   int
}

func lex(src string) []token {
	var toks []token
	i := 0
	for i < len(src) {
		start := strings.Index(src[i:], openDelim)
		if start < 0 {
			toks = append(toks, token{text: src[i:], pos: i})
			break
		}
		start += i
		end := strings.Index(src[start+len(openDelim):], closeDelim)
		if end < 0 {
			toks = append(toks, token{text: src[i:], pos: i})
			break
		}
		end += start + len(openDelim)
		if start > i {
			toks = append(toks, token{text: src[i:start], pos: i})
		}
		inner := strings.TrimSpace(src[start+len(openDelim) : end])
		raw := src[start : end+len(closeDelim)]
		if tok, ok := classify(inner, start); ok {
			toks = append(toks, tok)
		} else {
			toks = append(toks, token{text: raw, pos: start})
		}
		i = end + len(closeDelim)
	}
	return toks
}

func classify(inner string, pos int) (token, bool) {
	switch {
	case inner == "":
		return token{}, false
	case inner == "else":
		return token{isTag: true, kind: tagElse, pos: pos}, true
	case inner == "/if":
		return token{isTag: true, kind: tagEndIf, pos: pos}, true
	case inner == "/lang":
		return token{isTag: true, kind: tagEndLang, pos: pos}, true
	case strings.HasPrefix(inner, "#if "):
		return token{isTag: true, kind: tagIf, arg: strings.TrimSpace(inner[len("#if "):]), pos: pos}, true
	case strings.HasPrefix(inner, "#lang "):
		return token{isTag: true, kind: tagLang, arg: strings.TrimSpace(inner[len("#lang "):]), pos: pos}, true
	case strings.HasPrefix(inner, "#") || strings.HasPrefix(inner, "/"):
		return token{}, false
	}
	return token{isTag: true, kind: tagField, arg: inner, pos: pos}, true
}

type parser struct {
	toks []token
	i    int
}

// Parse builds a Template. It fails on unbalanced or misplaced block tags.
func Parse(src string) (*Template, error) {
	p := &parser{toks: lex(src)}
	nodes, stop, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	if stop != nil {
		return nil, fmt.Errorf("unexpected %s at offset %d", describe(*stop), stop.pos)
	}
	return &Template{src: src, nodes: nodes}, nil
}

// parseUntil consumes tokens until a closing or else tag, which it returns
// without consuming further.
func (p *parser) parseUntil() ([]node, *token, error) {
	var out []node
	for p.i < len(p.toks) {
		tok := p.toks[p.i]
		p.i++
		if !tok.isTag {
			out = append(out, textNode{text: tok.text})
			continue
		}
		switch tok.kind {
		case tagField:
			out = append(out, parseField(tok.arg))
		case tagIf:
			n, err := p.parseIf(tok)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, n)
		case tagLang:
			n, err := p.parseLang(tok)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, n)
		default:
			return out, &tok, nil
		}
	}
	return out, nil, nil
}

func (p *parser) parseIf(open token) (node, error) {
	field, op, value, err := parseCond(open.arg)
	if err != nil {
		return nil, fmt.Errorf("offset %d: %w", open.pos, err)
	}
	n := &ifNode{field: field, op: op, value: value}

	body, stop, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	n.then = body
	if stop != nil && stop.kind == tagElse {
		body, stop, err = p.parseUntil()
		if err != nil {
			return nil, err
		}
		n.els = body
	}
	if stop == nil {
		return nil, fmt.Errorf("unclosed {{#if %s}} at offset %d", open.arg, open.pos)
	}
	if stop.kind != tagEndIf {
		return nil, fmt.Errorf("unexpected %s at offset %d inside {{#if}}", describe(*stop), stop.pos)
	}
	return n, nil
}

func (p *parser) parseLang(open token) (node, error) {
	var locales []string
	for _, l := range strings.Split(open.arg, ",") {
		if l = strings.TrimSpace(l); l != "" {
			locales = append(locales, l)
		}
	}
	if len(locales) == 0 {
		return nil, fmt.Errorf("offset %d: {{#lang}} needs a locale", open.pos)
	}
	body, stop, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	if stop == nil {
		return nil, fmt.Errorf("unclosed {{#lang %s}} at offset %d", open.arg, open.pos)
	}
	if stop.kind != tagEndLang {
		return nil, fmt.Errorf("unexpected %s at offset %d inside {{#lang}}", describe(*stop), stop.pos)
	}
	return &langNode{locales: locales, body: body}, nil
}

func parseField(arg string) fieldNode {
	name, fallback, hasDefault := strings.Cut(arg, "|")
	return fieldNode{
		name:       strings.TrimSpace(name),
		fallback:   strings.TrimSpace(fallback),
		hasDefault: hasDefault,
	}
}

func parseCond(arg string) (string, condOp, string, error) {
	if field, value, ok := strings.Cut(arg, "!="); ok {
		return checkField(field, condNotEquals, value)
	}
	if field, value, ok := strings.Cut(arg, "="); ok {
		return checkField(field, condEquals, value)
	}
	return checkField(arg, condPresent, "")
}

func checkField(field string, op condOp, value string) (string, condOp, string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return "", 0, "", fmt.Errorf("condition has no field")
	}
	return field, op, strings.TrimSpace(value), nil
}

func describe(t token) string {
	switch t.kind {
	case tagElse:
		return "{{else}}"
	case tagEndIf:
		return "{{/if}}"
	case tagEndLang:
		return "{{/lang}}"
	}
	return "tag"
}
