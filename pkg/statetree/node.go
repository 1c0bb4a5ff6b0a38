package statetree

import (
	"reflect"
	"slices"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/pkg/reactive"
)

// StateNode holds an ordered key/value map and named ordered lists. Values
// may be scalars, JSON-like composites or child nodes; a node has at most one
// parent.
type StateNode struct {
	tree     *Tree
	id       int
	attached bool
	parent   *StateNode

	keys  []string
	props map[string]any

	listKeys []string
	lists    map[string][]any

	changes []NodeChange
	router  *reactive.EventRouter
}

// ID returns the node id, or 0 if the node has never been attached.
func (n *StateNode) ID() int {
	return n.id
}

// Tree returns the owning tree.
func (n *StateNode) Tree() *Tree {
	return n.tree
}

// Parent returns the current parent, or nil.
func (n *StateNode) Parent() *StateNode {
	return n.parent
}

// IsAttached reports whether the node is reachable from the tree root.
func (n *StateNode) IsAttached() bool {
	return n.attached
}

// AddReactiveListener subscribes to this node's change events.
func (n *StateNode) AddReactiveListener(listener reactive.Listener) reactive.Remover {
	return n.router.AddListener(listener)
}

// Source implements reactive.Event.
func (e ChangeEvent) Source() reactive.Value {
	return e.Node
}

// Get returns the value stored under key.
func (n *StateNode) Get(key string) (any, bool) {
	n.router.RegisterRead()
	v, ok := n.props[key]
	return v, ok
}

// GetNode returns the child node stored under key, or nil.
func (n *StateNode) GetNode(key string) *StateNode {
	v, _ := n.Get(key)
	child, _ := v.(*StateNode)
	return child
}

// Has reports whether key holds a value.
func (n *StateNode) Has(key string) bool {
	n.router.RegisterRead()
	_, ok := n.props[key]
	return ok
}

// Keys returns the property keys in insertion order.
func (n *StateNode) Keys() []string {
	n.router.RegisterRead()
	return slices.Clone(n.keys)
}

// Properties returns a copy of the key/value map.
func (n *StateNode) Properties() map[string]any {
	n.router.RegisterRead()
	out := make(map[string]any, len(n.props))
	for k, v := range n.props {
		out[k] = v
	}
	return out
}

// Put sets key to value. Nothing is recorded when the key already holds an
// equal value: nodes compare by identity, everything else structurally.
// Putting a node adopts it as a child; the value it replaces, if a node, is
// released.
func (n *StateNode) Put(key string, value any) error {
	value = normalize(value)
	old, had := n.props[key]
	if had && valuesEqual(old, value) {
		return nil
	}
	if err := n.checkAdopt(value); err != nil {
		return err
	}

	if had {
		n.release(old)
	} else {
		n.keys = append(n.keys, key)
	}
	n.props[key] = value
	n.adopt(value)

	n.tree.record(n, PutChange{Key: key, Value: value, Previous: old, Replaced: had})
	return nil
}

// Remove deletes key. Removing a missing key is a no-op.
func (n *StateNode) Remove(key string) {
	old, had := n.props[key]
	if !had {
		return
	}
	delete(n.props, key)
	n.keys = slices.DeleteFunc(n.keys, func(k string) bool { return k == key })
	n.release(old)

	n.tree.record(n, RemoveChange{Key: key, Value: old})
}

// List returns a copy of the list stored under key.
func (n *StateNode) List(key string) []any {
	n.router.RegisterRead()
	return slices.Clone(n.lists[key])
}

// ListLen returns the length of the list stored under key.
func (n *StateNode) ListLen(key string) int {
	n.router.RegisterRead()
	return len(n.lists[key])
}

// ListKeys returns the list keys in creation order.
func (n *StateNode) ListKeys() []string {
	n.router.RegisterRead()
	return slices.Clone(n.listKeys)
}

// Lists returns a copy of every list.
func (n *StateNode) Lists() map[string][]any {
	n.router.RegisterRead()
	out := make(map[string][]any, len(n.lists))
	for k, v := range n.lists {
		out[k] = slices.Clone(v)
	}
	return out
}

// ListInsert inserts value at index; index may equal the list length to append.
func (n *StateNode) ListInsert(key string, index int, value any) error {
	value = normalize(value)
	items, exists := n.lists[key]
	if index < 0 || index > len(items) {
		return errors.IndexOutOfRange(key, index, len(items))
	}
	if err := n.checkAdopt(value); err != nil {
		return err
	}

	if !exists {
		n.listKeys = append(n.listKeys, key)
	}
	n.lists[key] = slices.Insert(items, index, value)
	n.adopt(value)

	n.tree.record(n, ListInsertChange{Key: key, Index: index, Value: value})
	return nil
}

// ListAppend appends value to the list under key.
func (n *StateNode) ListAppend(key string, value any) error {
	return n.ListInsert(key, len(n.lists[key]), value)
}

// ListReplace replaces the item at index. Replacing with an equal value is a no-op.
func (n *StateNode) ListReplace(key string, index int, value any) error {
	value = normalize(value)
	items := n.lists[key]
	if index < 0 || index >= len(items) {
		return errors.IndexOutOfRange(key, index, len(items))
	}
	old := items[index]
	if valuesEqual(old, value) {
		return nil
	}
	if err := n.checkAdopt(value); err != nil {
		return err
	}

	n.release(old)
	items[index] = value
	n.adopt(value)

	n.tree.record(n, ListReplaceChange{Key: key, Index: index, OldValue: old, NewValue: value})
	return nil
}

// ListRemove removes the item at index.
func (n *StateNode) ListRemove(key string, index int) error {
	items := n.lists[key]
	if index < 0 || index >= len(items) {
		return errors.IndexOutOfRange(key, index, len(items))
	}
	old := items[index]
	n.lists[key] = slices.Delete(items, index, index+1)
	n.release(old)

	n.tree.record(n, ListRemoveChange{Key: key, Index: index, Value: old})
	return nil
}

// Flush returns and clears the changes recorded since the previous flush.
func (n *StateNode) Flush() []NodeChange {
	changes := n.changes
	n.changes = nil
	if changes == nil {
		return []NodeChange{}
	}
	return changes
}

// HasChanges reports whether the node has unflushed changes.
func (n *StateNode) HasChanges() bool {
	return len(n.changes) > 0
}

// Children returns the child nodes: property values in key order, then list
// items in list order.
func (n *StateNode) Children() []*StateNode {
	var out []*StateNode
	for _, k := range n.keys {
		if child, ok := n.props[k].(*StateNode); ok {
			out = append(out, child)
		}
	}
	for _, k := range n.listKeys {
		for _, v := range n.lists[k] {
			if child, ok := v.(*StateNode); ok {
				out = append(out, child)
			}
		}
	}
	return out
}

// walk visits n and its descendants in pre-order.
func (n *StateNode) walk(fn func(*StateNode)) {
	fn(n)
	for _, child := range n.Children() {
		child.walk(fn)
	}
}

func (n *StateNode) checkAdopt(value any) error {
	child, ok := value.(*StateNode)
	if !ok {
		return nil
	}
	if child.tree != n.tree {
		return errors.New(errors.ErrCodeInvalidInput, "node belongs to another tree").
			WithDetail("node", child.id)
	}
	if child.parent != nil || child == n.tree.root {
		return errors.NodeAttached(child.id)
	}
	for a := n; a != nil; a = a.parent {
		if a == child {
			return errors.NodeCycle(child.id)
		}
	}
	return nil
}

func (n *StateNode) adopt(value any) {
	child, ok := value.(*StateNode)
	if !ok {
		return
	}
	child.parent = n
	n.tree.record(child, ParentChange{NewParent: n})
	if n.attached {
		n.tree.register(child)
	}
}

func (n *StateNode) release(value any) {
	child, ok := value.(*StateNode)
	if !ok || child.parent != n {
		return
	}
	child.parent = nil
	n.tree.record(child, ParentChange{OldParent: n})
	if child.attached {
		n.tree.unregister(child)
	}
}

// snapshotChanges describes the node's whole current state.
func (n *StateNode) snapshotChanges() []NodeChange {
	out := []NodeChange{AttachChange{ID: n.id}}
	if n.parent != nil {
		out = append(out, ParentChange{NewParent: n.parent})
	}
	for _, k := range n.keys {
		out = append(out, PutChange{Key: k, Value: n.props[k]})
	}
	for _, k := range n.listKeys {
		for i, v := range n.lists[k] {
			out = append(out, ListInsertChange{Key: k, Index: i, Value: v})
		}
	}
	return out
}

// normalize turns a typed nil node pointer into a plain nil.
func normalize(value any) any {
	if child, ok := value.(*StateNode); ok && child == nil {
		return nil
	}
	return value
}

func valuesEqual(a, b any) bool {
	an, aIsNode := a.(*StateNode)
	bn, bIsNode := b.(*StateNode)
	if aIsNode || bIsNode {
		return aIsNode && bIsNode && an == bn
	}
	return reflect.DeepEqual(a, b)
}
