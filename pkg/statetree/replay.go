package statetree

import "slices"

// Model is the state of one node as reconstructed from its changes.
type Model struct {
	Attached bool
	Parent   *StateNode
	Props    map[string]any
	Lists    map[string][]any
}

func newModel() *Model {
	return &Model{
		Props: make(map[string]any),
		Lists: make(map[string][]any),
	}
}

// Replayer is a Visitor that rebuilds node state from change streams, the
// way a client mirrors the tree.
type Replayer struct {
	models map[*StateNode]*Model
}

// NewReplayer creates an empty replayer.
func NewReplayer() *Replayer {
	return &Replayer{models: make(map[*StateNode]*Model)}
}

// Apply dispatches each change of node to the replayer.
func (r *Replayer) Apply(node *StateNode, changes []NodeChange) {
	for _, c := range changes {
		c.Accept(node, r)
	}
}

// ApplyAll dispatches a batch of collected changes.
func (r *Replayer) ApplyAll(changes []Change) {
	for _, c := range changes {
		c.Change.Accept(c.Node, r)
	}
}

// Model returns the reconstructed state of node.
func (r *Replayer) Model(node *StateNode) *Model {
	m, ok := r.models[node]
	if !ok {
		m = newModel()
		r.models[node] = m
	}
	return m
}

func (r *Replayer) VisitPut(node *StateNode, c PutChange) {
	r.Model(node).Props[c.Key] = c.Value
}

func (r *Replayer) VisitRemove(node *StateNode, c RemoveChange) {
	delete(r.Model(node).Props, c.Key)
}

func (r *Replayer) VisitListInsert(node *StateNode, c ListInsertChange) {
	m := r.Model(node)
	m.Lists[c.Key] = slices.Insert(m.Lists[c.Key], c.Index, c.Value)
}

func (r *Replayer) VisitListReplace(node *StateNode, c ListReplaceChange) {
	r.Model(node).Lists[c.Key][c.Index] = c.NewValue
}

func (r *Replayer) VisitListRemove(node *StateNode, c ListRemoveChange) {
	m := r.Model(node)
	m.Lists[c.Key] = slices.Delete(m.Lists[c.Key], c.Index, c.Index+1)
}

func (r *Replayer) VisitParent(node *StateNode, c ParentChange) {
	r.Model(node).Parent = c.NewParent
}

// VisitAttach starts the node over: an attach is followed by its full state.
func (r *Replayer) VisitAttach(node *StateNode, _ AttachChange) {
	m := newModel()
	m.Attached = true
	r.models[node] = m
}

func (r *Replayer) VisitDetach(node *StateNode, _ DetachChange) {
	r.Model(node).Attached = false
}
