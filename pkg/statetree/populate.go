package statetree

import "sort"

// Populate copies a decoded JSON object into n. Nested objects become child
// nodes, arrays become lists whose object items become nodes, and every
// other value is put as is. Keys are applied in sorted order so node ids are
// deterministic.
func (n *StateNode) Populate(values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch v := values[key].(type) {
		case map[string]any:
			child := n.tree.NewNode()
			if err := child.Populate(v); err != nil {
				return err
			}
			if err := n.Put(key, child); err != nil {
				return err
			}
		case []any:
			for _, item := range v {
				value, err := n.populateItem(item)
				if err != nil {
					return err
				}
				if err := n.ListAppend(key, value); err != nil {
					return err
				}
			}
		default:
			if err := n.Put(key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *StateNode) populateItem(item any) (any, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return item, nil
	}
	child := n.tree.NewNode()
	if err := child.Populate(obj); err != nil {
		return nil, err
	}
	return child, nil
}
