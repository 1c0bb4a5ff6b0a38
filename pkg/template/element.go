package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grovetools/statesync/pkg/statetree"
	"golang.org/x/net/html"
)

// View is a materialized template node: *Element or *Text.
type View interface {
	// String renders the view as HTML from current node data.
	String() string
	// Text returns the text content.
	Text() string
}

// scope resolves binding keys. Loop scopes bind an alias to one list item.
type scope struct {
	node   *statetree.StateNode
	alias  string
	item   any
	parent *scope
}

func (s *scope) root() *statetree.StateNode {
	for s.parent != nil {
		s = s.parent
	}
	return s.node
}

// resolve returns the owning node and final key segment for key. An alias
// with no further segments resolves to the loop item itself.
func (s *scope) resolve(key string) (owner *statetree.StateNode, last string, item any, isItem bool) {
	parts := strings.Split(key, ".")
	for sc := s; sc != nil; sc = sc.parent {
		if sc.alias != "" && sc.alias == parts[0] {
			if len(parts) == 1 {
				return nil, "", sc.item, true
			}
			return walk(sc.node, parts[1:len(parts)-1]), parts[len(parts)-1], nil, false
		}
	}
	return walk(s.root(), parts[:len(parts)-1]), parts[len(parts)-1], nil, false
}

func walk(node *statetree.StateNode, path []string) *statetree.StateNode {
	for _, p := range path {
		if node == nil {
			return nil
		}
		node = node.GetNode(p)
	}
	return node
}

func (s *scope) value(key string) any {
	owner, last, item, isItem := s.resolve(key)
	if isItem {
		return item
	}
	if owner == nil {
		return nil
	}
	v, _ := owner.Get(last)
	return v
}

func (s *scope) list(key string) []any {
	owner, last, _, isItem := s.resolve(key)
	if isItem || owner == nil {
		return nil
	}
	return owner.List(last)
}

func format(v any) string {
	switch t := v.(type) {
	case nil, *statetree.StateNode:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Element is a live view of an ElementTemplate over a node. Nothing is
// cached: every accessor reads the node's current data.
type Element struct {
	tmpl  *ElementTemplate
	scope *scope
}

// GetElement binds tmpl to node.
func GetElement(tmpl *ElementTemplate, node *statetree.StateNode) *Element {
	return &Element{tmpl: tmpl, scope: &scope{node: node}}
}

// Template returns the element's template.
func (e *Element) Template() *ElementTemplate {
	return e.tmpl
}

// Tag returns the element name.
func (e *Element) Tag() string {
	return e.tmpl.tag
}

// AttributeNames returns the names of present attributes in source order.
// A bound attribute whose key has no value is absent.
func (e *Element) AttributeNames() []string {
	var names []string
	for _, a := range e.tmpl.attrs {
		if _, ok := e.attribute(a); ok {
			names = append(names, a.Name)
		}
	}
	return names
}

// AttributeCount returns the number of present attributes.
func (e *Element) AttributeCount() int {
	return len(e.AttributeNames())
}

// Attribute returns the current value of the named attribute.
func (e *Element) Attribute(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range e.tmpl.attrs {
		if a.Name == name {
			return e.attribute(a)
		}
	}
	return "", false
}

// HasAttribute reports whether the named attribute is present.
func (e *Element) HasAttribute(name string) bool {
	_, ok := e.Attribute(name)
	return ok
}

func (e *Element) attribute(a Attribute) (string, bool) {
	if !a.Bound() {
		return a.Value, true
	}
	v := e.scope.value(a.Binding)
	if v == nil {
		return "", false
	}
	return format(v), true
}

// ChildNodes returns element and text children, with loops expanded.
func (e *Element) ChildNodes() []View {
	var out []View
	for _, c := range e.tmpl.children {
		switch t := c.(type) {
		case *ElementTemplate:
			out = append(out, &Element{tmpl: t, scope: e.scope})
		case *TextTemplate:
			out = append(out, &Text{tmpl: t, scope: e.scope})
		case *RawTemplate:
			out = append(out, rawView(t.raw))
		case *ForTemplate:
			for _, item := range e.scope.list(t.ListKey) {
				itemNode, _ := item.(*statetree.StateNode)
				out = append(out, &Element{
					tmpl:  t.Body,
					scope: &scope{node: itemNode, alias: t.Alias, item: item, parent: e.scope},
				})
			}
		}
	}
	return out
}

// Children returns the child elements, with loops expanded.
func (e *Element) Children() []*Element {
	var out []*Element
	for _, v := range e.ChildNodes() {
		if el, ok := v.(*Element); ok {
			out = append(out, el)
		}
	}
	return out
}

// ChildCount returns the number of child elements.
func (e *Element) ChildCount() int {
	return len(e.Children())
}

// Child returns the i-th child element.
func (e *Element) Child(i int) *Element {
	children := e.Children()
	if i < 0 || i >= len(children) {
		return nil
	}
	return children[i]
}

// Text returns the text content of the element and its descendants.
func (e *Element) Text() string {
	var sb strings.Builder
	for _, v := range e.ChildNodes() {
		sb.WriteString(v.Text())
	}
	return sb.String()
}

// String renders the element. Parts without bindings are written exactly
// as they appeared in the template source.
func (e *Element) String() string {
	var sb strings.Builder
	if e.tmpl.dynamic {
		sb.WriteString("<" + e.tmpl.tag)
		for _, a := range e.tmpl.attrs {
			if v, ok := e.attribute(a); ok {
				fmt.Fprintf(&sb, ` %s="%s"`, a.Name, html.EscapeString(v))
			}
		}
		if e.tmpl.selfClosing {
			sb.WriteString("/>")
		} else {
			sb.WriteString(">")
		}
	} else {
		sb.WriteString(e.tmpl.rawStart)
	}
	for _, v := range e.ChildNodes() {
		sb.WriteString(v.String())
	}
	sb.WriteString(e.tmpl.rawEnd)
	return sb.String()
}

// Text is a live view of a TextTemplate.
type Text struct {
	tmpl  *TextTemplate
	scope *scope
}

func (t *Text) Text() string {
	var sb strings.Builder
	for _, p := range t.tmpl.parts {
		if p.binding != "" {
			sb.WriteString(format(t.scope.value(p.binding)))
		} else {
			sb.WriteString(html.UnescapeString(p.literal))
		}
	}
	return sb.String()
}

func (t *Text) String() string {
	if !t.tmpl.hasBindings() {
		return t.tmpl.raw
	}
	var sb strings.Builder
	for _, p := range t.tmpl.parts {
		if p.binding != "" {
			sb.WriteString(html.EscapeString(format(t.scope.value(p.binding))))
		} else {
			sb.WriteString(p.literal)
		}
	}
	return sb.String()
}

type rawView string

func (r rawView) String() string { return string(r) }
func (rawView) Text() string     { return "" }

func (t *TextTemplate) hasBindings() bool {
	for _, p := range t.parts {
		if p.binding != "" {
			return true
		}
	}
	return false
}
