package inspector

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/grovetools/statesync/pkg/statetree"
)

type nodeView struct {
	id    int
	props map[string]any
	lists map[string][]any
}

// Outline renders a tree snapshot as an indented outline, one property or
// list item per line. Keys are sorted.
func Outline(root *statetree.NodeSnapshot) string {
	if root == nil {
		return ""
	}
	var b strings.Builder
	writeNode(&b, "root", nodeView{id: root.ID, props: root.Properties, lists: root.Lists}, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeNode(b *strings.Builder, label string, n nodeView, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%s #%d\n", indent, label, n.id)
	for _, k := range slices.Sorted(maps.Keys(n.props)) {
		writeValue(b, k, n.props[k], depth+1)
	}
	for _, k := range slices.Sorted(maps.Keys(n.lists)) {
		items := n.lists[k]
		fmt.Fprintf(b, "%s  %s [%d]\n", indent, k, len(items))
		for i, item := range items {
			writeValue(b, fmt.Sprintf("[%d]", i), item, depth+2)
		}
	}
}

func writeValue(b *strings.Builder, label string, v any, depth int) {
	if n, ok := asNode(v); ok {
		writeNode(b, label, n, depth)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprint(v))
	}
	fmt.Fprintf(b, "%s%s = %s\n", strings.Repeat("  ", depth), label, data)
}

// asNode recognizes child snapshots, both as values and as decoded JSON.
func asNode(v any) (nodeView, bool) {
	switch n := v.(type) {
	case *statetree.NodeSnapshot:
		return nodeView{id: n.ID, props: n.Properties, lists: n.Lists}, true
	case map[string]any:
		id, ok := n["id"].(float64)
		if !ok {
			return nodeView{}, false
		}
		view := nodeView{id: int(id)}
		view.props, _ = n["properties"].(map[string]any)
		if lists, ok := n["lists"].(map[string]any); ok {
			view.lists = make(map[string][]any, len(lists))
			for k, items := range lists {
				view.lists[k], _ = items.([]any)
			}
		}
		return view, true
	}
	return nodeView{}, false
}
