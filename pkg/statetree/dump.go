package statetree

// NodeSnapshot is a JSON-friendly copy of a subtree.
type NodeSnapshot struct {
	ID         int              `json:"id"`
	Properties map[string]any   `json:"properties,omitempty"`
	Lists      map[string][]any `json:"lists,omitempty"`
}

// Snapshot copies the subtree rooted at n. Child nodes are replaced by their
// own snapshots. Reads are not tracked by reactive computations.
func Snapshot(n *StateNode) *NodeSnapshot {
	s := &NodeSnapshot{ID: n.id}
	if len(n.props) > 0 {
		s.Properties = make(map[string]any, len(n.props))
		for _, k := range n.keys {
			s.Properties[k] = snapshotValue(n.props[k])
		}
	}
	if len(n.lists) > 0 {
		s.Lists = make(map[string][]any, len(n.lists))
		for _, k := range n.listKeys {
			items := make([]any, len(n.lists[k]))
			for i, v := range n.lists[k] {
				items[i] = snapshotValue(v)
			}
			s.Lists[k] = items
		}
	}
	return s
}

func snapshotValue(v any) any {
	if child, ok := v.(*StateNode); ok {
		return Snapshot(child)
	}
	return v
}
