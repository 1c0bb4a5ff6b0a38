// Package template parses a small HTML template language into an
// ElementTemplate that can be projected onto state nodes.
//
// Supported syntax:
//
//	<input type="text" [value]="key">   bound attribute
//	<span>Hello {{user.name}}</span>    text interpolation
//	<li *ng-for="#item of items">{{item.label}}</li>
//
// Tag and attribute names are case-insensitive and normalized to lower case.
package template

import (
	"io"
	"regexp"
	"strings"

	"github.com/grovetools/statesync/errors"
	"golang.org/x/net/html"
)

var (
	bindingKey = regexp.MustCompile(`^[A-Za-z_$][\w$-]*(\.[A-Za-z_$][\w$-]*)*$`)
	ngFor      = regexp.MustCompile(`^#([A-Za-z_$][\w$-]*)\s+of\s+([A-Za-z_$][\w$-]*(?:\.[A-Za-z_$][\w$-]*)*)$`)
)

const loopDirective = "*ng-for"

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// Template is one parsed node: *ElementTemplate, *TextTemplate,
// *ForTemplate or *RawTemplate.
type Template interface {
	isTemplate()
}

// Attribute is a static or bound attribute.
type Attribute struct {
	Name string
	// Value is the literal value of a static attribute.
	Value string
	// Binding is the data key of a bound attribute.
	Binding string
}

// Bound reports whether the attribute takes its value from node data.
func (a Attribute) Bound() bool {
	return a.Binding != ""
}

// ElementTemplate is a parsed element with its attributes and children.
type ElementTemplate struct {
	tag         string
	attrs       []Attribute
	children    []Template
	selfClosing bool
	rawStart    string
	rawEnd      string
	// dynamic elements are rendered from their parts instead of rawStart.
	dynamic bool
}

// TextTemplate is text content, possibly with {{key}} interpolations.
type TextTemplate struct {
	raw   string
	parts []textPart
}

type textPart struct {
	literal string
	binding string
}

// ForTemplate repeats Body once per item of the list under ListKey.
type ForTemplate struct {
	Alias   string
	ListKey string
	Body    *ElementTemplate
}

// RawTemplate is a comment or other markup passed through unchanged.
type RawTemplate struct {
	raw string
}

func (*ElementTemplate) isTemplate() {}
func (*TextTemplate) isTemplate()    {}
func (*ForTemplate) isTemplate()     {}
func (*RawTemplate) isTemplate()     {}

// Tag returns the element name.
func (t *ElementTemplate) Tag() string {
	return t.tag
}

// Attributes returns the attributes in source order.
func (t *ElementTemplate) Attributes() []Attribute {
	return append([]Attribute(nil), t.attrs...)
}

// Children returns the child templates.
func (t *ElementTemplate) Children() []Template {
	return append([]Template(nil), t.children...)
}

// Bindings returns every data key the template reads, in source order.
func (t *ElementTemplate) Bindings() []string {
	var keys []string
	var walk func(Template)
	walk = func(node Template) {
		switch n := node.(type) {
		case *ElementTemplate:
			for _, a := range n.attrs {
				if a.Bound() {
					keys = append(keys, a.Binding)
				}
			}
			for _, c := range n.children {
				walk(c)
			}
		case *TextTemplate:
			for _, p := range n.parts {
				if p.binding != "" {
					keys = append(keys, p.binding)
				}
			}
		case *ForTemplate:
			keys = append(keys, n.ListKey)
			walk(n.Body)
		}
	}
	walk(t)
	return keys
}

type parser struct {
	z     *html.Tokenizer
	stack []*ElementTemplate
	root  *ElementTemplate
}

// Parse parses src, which must contain exactly one root element.
func Parse(src string) (*ElementTemplate, error) {
	p := &parser{z: html.NewTokenizer(strings.NewReader(src))}
	for {
		tt := p.z.Next()
		raw := string(p.z.Raw())

		var err error
		switch tt {
		case html.ErrorToken:
			if p.z.Err() != io.EOF {
				return nil, errors.Wrap(p.z.Err(), errors.ErrCodeTemplateSyntax, "failed to tokenize template")
			}
			return p.finish()
		case html.TextToken:
			err = p.text(raw)
		case html.StartTagToken, html.SelfClosingTagToken:
			err = p.startTag(raw, tt == html.SelfClosingTagToken)
		case html.EndTagToken:
			err = p.endTag(raw)
		case html.CommentToken, html.DoctypeToken:
			if top := p.top(); top != nil {
				top.children = append(top.children, &RawTemplate{raw: raw})
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *ElementTemplate {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

func (p *parser) top() *ElementTemplate {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

func (p *parser) text(raw string) error {
	top := p.top()
	if top == nil {
		if strings.TrimSpace(raw) != "" {
			return errors.TemplateSyntax(raw, "text outside the root element")
		}
		return nil
	}
	text, err := parseText(raw)
	if err != nil {
		return err
	}
	top.children = append(top.children, text)
	return nil
}

func (p *parser) startTag(raw string, selfClosing bool) error {
	name, hasAttr := p.z.TagName()
	el := &ElementTemplate{
		tag:         string(name),
		selfClosing: selfClosing,
		rawStart:    raw,
	}

	var loop *ForTemplate
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = p.z.TagAttr()
		attrName, attrValue := string(key), string(val)

		switch {
		case attrName == loopDirective:
			m := ngFor.FindStringSubmatch(strings.TrimSpace(attrValue))
			if m == nil {
				return errors.TemplateSyntax(raw, "malformed *ng-for, expected \"#alias of listKey\"")
			}
			loop = &ForTemplate{Alias: m[1], ListKey: m[2], Body: el}
			el.dynamic = true
		case strings.HasPrefix(attrName, "[") && strings.HasSuffix(attrName, "]"):
			inner := attrName[1 : len(attrName)-1]
			binding := strings.TrimSpace(attrValue)
			if inner == "" {
				return errors.TemplateSyntax(raw, "bound attribute without a name")
			}
			if binding == "" {
				return errors.TemplateSyntax(raw, "bound attribute ["+inner+"] without a value")
			}
			if !bindingKey.MatchString(binding) {
				return errors.TemplateSyntax(raw, "invalid binding key "+binding)
			}
			el.attrs = append(el.attrs, Attribute{Name: inner, Binding: binding})
			el.dynamic = true
		case strings.HasPrefix(attrName, "["), strings.HasSuffix(attrName, "]"):
			return errors.TemplateSyntax(raw, "unbalanced brackets in attribute "+attrName)
		default:
			el.attrs = append(el.attrs, Attribute{Name: attrName, Value: attrValue})
		}
	}

	top := p.top()
	switch {
	case top == nil && p.root != nil:
		return errors.TemplateSyntax(raw, "more than one root element")
	case top == nil && loop != nil:
		return errors.TemplateSyntax(raw, "*ng-for is not allowed on the root element")
	case top == nil:
		p.root = el
	case loop != nil:
		top.children = append(top.children, loop)
	default:
		top.children = append(top.children, el)
	}

	if !selfClosing && !voidElements[el.tag] {
		p.stack = append(p.stack, el)
	}
	return nil
}

func (p *parser) endTag(raw string) error {
	name, _ := p.z.TagName()
	top := p.top()
	if top == nil || top.tag != string(name) {
		return errors.TemplateSyntax(raw, "unexpected end tag")
	}
	top.rawEnd = raw
	p.stack = p.stack[:len(p.stack)-1]
	return nil
}

func (p *parser) finish() (*ElementTemplate, error) {
	if top := p.top(); top != nil {
		return nil, errors.TemplateSyntax(top.rawStart, "missing end tag for <"+top.tag+">")
	}
	if p.root == nil {
		return nil, errors.TemplateSyntax("", "template has no root element")
	}
	return p.root, nil
}

func parseText(raw string) (*TextTemplate, error) {
	t := &TextTemplate{raw: raw}
	rest := raw
	for rest != "" {
		open := strings.Index(rest, "{{")
		if open < 0 {
			t.parts = append(t.parts, textPart{literal: rest})
			break
		}
		if open > 0 {
			t.parts = append(t.parts, textPart{literal: rest[:open]})
		}
		closing := strings.Index(rest[open+2:], "}}")
		if closing < 0 {
			return nil, errors.TemplateSyntax(rest[open:], "unterminated {{")
		}
		end := open + 2 + closing + 2
		key := strings.TrimSpace(rest[open+2 : open+2+closing])
		if key == "" {
			return nil, errors.TemplateSyntax(rest[open:end], "empty binding key")
		}
		if !bindingKey.MatchString(key) {
			return nil, errors.TemplateSyntax(rest[open:end], "invalid binding key "+key)
		}
		t.parts = append(t.parts, textPart{binding: key})
		rest = rest[end:]
	}
	return t, nil
}
