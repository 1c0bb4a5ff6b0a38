// Package statetree implements the server-side node tree whose mutations are
// recorded as NodeChange values and delivered to clients on flush.
//
// A Tree and its nodes are not safe for concurrent use. The embedding
// session serializes access.
package statetree

import (
	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/pkg/reactive"
	"github.com/sirupsen/logrus"
)

// Tree owns node registration and the set of nodes with pending changes.
type Tree struct {
	nextID int
	nodes  map[int]*StateNode
	root   *StateNode

	dirty    []*StateNode
	dirtySet map[*StateNode]struct{}
	journal  []Change

	scheduler    *reactive.Scheduler
	flushPending bool
	handlers     []func([]Change)
	replaying    bool

	logger *logrus.Entry
}

// Option configures a Tree.
type Option func(*Tree)

// WithScheduler binds the tree to a reactive scheduler: node changes fire
// invalidation events through it and pending changes are delivered to
// OnChanges handlers by its next flush.
func WithScheduler(s *reactive.Scheduler) Option {
	return func(t *Tree) {
		t.scheduler = s
	}
}

// WithLogger sets the tree's logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(t *Tree) {
		t.logger = logger
	}
}

// NewTree creates a tree with a registered root node (id 1).
func NewTree(opts ...Option) *Tree {
	t := &Tree{
		nodes:    make(map[int]*StateNode),
		dirtySet: make(map[*StateNode]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "statetree")
	}
	t.root = t.NewNode()
	t.register(t.root)
	return t
}

// Root returns the root node.
func (t *Tree) Root() *StateNode {
	return t.root
}

// Scheduler returns the bound scheduler, or nil.
func (t *Tree) Scheduler() *reactive.Scheduler {
	return t.scheduler
}

// NewNode creates an unattached node owned by this tree.
func (t *Tree) NewNode() *StateNode {
	n := &StateNode{
		tree:  t,
		props: make(map[string]any),
		lists: make(map[string][]any),
	}
	n.router = reactive.NewEventRouter(t.scheduler, n)
	return n
}

// NodeByID returns the attached node registered under id.
func (t *Tree) NodeByID(id int) (*StateNode, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Len returns the number of attached nodes, root included.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// OnChanges registers a handler that receives the changes collected by each
// scheduler flush. It has no effect on trees without a scheduler.
func (t *Tree) OnChanges(handler func([]Change)) {
	t.handlers = append(t.handlers, handler)
}

// HasChanges reports whether any attached node has unflushed changes.
func (t *Tree) HasChanges() bool {
	for _, n := range t.dirty {
		if n.IsAttached() && len(n.changes) > 0 {
			return true
		}
	}
	return false
}

// CollectChanges flushes every attached dirty node, in the order the nodes
// first became dirty, and passes each change to fn. Detached nodes are
// skipped: attaching a node later describes its whole state anyway.
func (t *Tree) CollectChanges(fn func(node *StateNode, change NodeChange)) {
	pending := t.dirty
	t.dirty = nil
	t.dirtySet = make(map[*StateNode]struct{})
	t.journal = nil

	for _, n := range pending {
		if !n.IsAttached() {
			continue
		}
		for _, c := range n.Flush() {
			fn(n, c)
		}
	}
}

// Changes collects pending changes into a slice.
func (t *Tree) Changes() []Change {
	var out []Change
	t.CollectChanges(func(n *StateNode, c NodeChange) {
		out = append(out, Change{Node: n, Change: c})
	})
	return out
}

// Rollback reverts every change recorded since the last CollectChanges or
// Rollback, newest first, and discards them. Node ids are kept, so nodes
// re-attached by the rollback come back under their previous ids. A change
// that cannot be reverted is logged and skipped; the first such failure is
// returned once the rest have been reverted.
func (t *Tree) Rollback() error {
	journal := t.journal
	t.replaying = true
	defer func() { t.replaying = false }()

	var failed error
	for i := len(journal) - 1; i >= 0; i-- {
		c := journal[i]
		if err := revert(c.Node, c.Change); err != nil {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"node":   c.Node.id,
				"change": c.Change.Kind().String(),
			}).Error("Failed to revert change")
			if failed == nil {
				failed = errors.Wrap(err, errors.ErrCodeInternal, "rollback left the tree partially reverted").
					WithDetail("node", c.Node.id)
			}
		}
	}
	for _, c := range journal {
		c.Node.changes = nil
	}
	for _, n := range t.dirty {
		n.changes = nil
	}
	t.dirty = nil
	t.dirtySet = make(map[*StateNode]struct{})
	t.journal = nil
	return failed
}

func revert(n *StateNode, c NodeChange) error {
	switch c := c.(type) {
	case PutChange:
		if c.Replaced {
			return n.Put(c.Key, c.Previous)
		}
		n.Remove(c.Key)
	case RemoveChange:
		return n.Put(c.Key, c.Value)
	case ListInsertChange:
		return n.ListRemove(c.Key, c.Index)
	case ListReplaceChange:
		return n.ListReplace(c.Key, c.Index, c.OldValue)
	case ListRemoveChange:
		return n.ListInsert(c.Key, c.Index, c.Value)
	}
	return nil
}

func (t *Tree) record(n *StateNode, c NodeChange) {
	if t.replaying {
		return
	}
	n.changes = append(n.changes, c)
	t.journal = append(t.journal, Change{Node: n, Change: c})
	t.markDirty(n)
	n.router.Invalidate(ChangeEvent{Node: n, Change: c})
}

func (t *Tree) markDirty(n *StateNode) {
	if _, ok := t.dirtySet[n]; !ok {
		t.dirtySet[n] = struct{}{}
		t.dirty = append(t.dirty, n)
	}
	if t.scheduler != nil && !t.flushPending {
		t.flushPending = true
		t.scheduler.AddFlushListener(t.deliver)
	}
}

func (t *Tree) deliver() {
	t.flushPending = false
	changes := t.Changes()
	if len(changes) == 0 {
		return
	}
	t.logger.WithField("changes", len(changes)).Debug("Delivering node changes")
	for _, h := range t.handlers {
		h(changes)
	}
}

// register assigns ids to n and its descendants and marks them attached.
// Each newly attached node's pending changes are replaced by a full
// description of its current state, starting with an AttachChange.
func (t *Tree) register(n *StateNode) {
	n.walk(func(child *StateNode) {
		if child.attached {
			return
		}
		if child.id == 0 {
			t.nextID++
			child.id = t.nextID
		}
		child.attached = true
		t.nodes[child.id] = child
		child.changes = child.snapshotChanges()
		t.markDirty(child)
		if !t.replaying {
			child.router.Invalidate(ChangeEvent{Node: child, Change: child.changes[0]})
		}
	})
}

// unregister marks n and its descendants detached. Their ids are retained
// and their pending changes are dropped, leaving only a DetachChange.
func (t *Tree) unregister(n *StateNode) {
	n.walk(func(child *StateNode) {
		if !child.attached {
			return
		}
		child.attached = false
		delete(t.nodes, child.id)
		detach := DetachChange{ID: child.id}
		child.changes = []NodeChange{detach}
		if !t.replaying {
			child.router.Invalidate(ChangeEvent{Node: child, Change: detach})
		}
	})
}
