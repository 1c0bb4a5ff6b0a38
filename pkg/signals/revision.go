package signals

import "maps"

// TreeRevision is a read-only snapshot of a signal tree.
type TreeRevision struct {
	nodes map[ID]Node
}

// NewTreeRevision returns a revision holding only an empty root.
func NewTreeRevision() *TreeRevision {
	return &TreeRevision{nodes: map[ID]Node{ZeroID: Data{}}}
}

// Node returns the raw node stored under id, alias or data.
func (r *TreeRevision) Node(id ID) (Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Data returns the data of id, following an alias.
func (r *TreeRevision) Data(id ID) (Data, bool) {
	n, ok := r.nodes[id]
	if alias, isAlias := n.(Alias); isAlias {
		n, ok = r.nodes[alias.Target]
	}
	if !ok {
		return Data{}, false
	}
	d, ok := n.(Data)
	return d, ok
}

// Value returns the value of id, or nil if the node does not exist.
func (r *TreeRevision) Value(id ID) any {
	d, _ := r.Data(id)
	return d.Value
}

// Nodes returns a copy of every node by id.
func (r *TreeRevision) Nodes() map[ID]Node {
	return maps.Clone(r.nodes)
}

// Len returns the number of nodes, aliases included.
func (r *TreeRevision) Len() int {
	return len(r.nodes)
}

// Snapshot returns an independent copy of the revision.
func (r *TreeRevision) Snapshot() *TreeRevision {
	return &TreeRevision{nodes: maps.Clone(r.nodes)}
}

// Mutable returns a mutable copy of the revision.
func (r *TreeRevision) Mutable() *MutableTreeRevision {
	return &MutableTreeRevision{TreeRevision: TreeRevision{nodes: maps.Clone(r.nodes)}}
}

// RootValue returns the root value of a revision.
func RootValue(r *TreeRevision) any {
	return r.Value(ZeroID)
}

// MutableTreeRevision is a revision that commands can be applied to.
type MutableTreeRevision struct {
	TreeRevision
}

// NewMutableTreeRevision returns a mutable revision holding only an empty root.
func NewMutableTreeRevision() *MutableTreeRevision {
	return NewTreeRevision().Mutable()
}

// Apply applies cmd and returns its result. A rejected command leaves the
// revision unchanged.
func (r *MutableTreeRevision) Apply(cmd Command) CommandResult {
	return r.ApplyWithResults(cmd, nil)
}

// ApplyWithResults applies cmd and reports results to collect: once for most
// commands, and additionally once per nested command of a transaction.
func (r *MutableTreeRevision) ApplyWithResults(cmd Command, collect func(ID, CommandResult)) CommandResult {
	var result CommandResult
	if _, ok := r.Data(cmd.TargetNodeID()); !ok {
		result = Reject{Reason: ReasonNodeNotFound}
	} else {
		m := newManipulator(r, cmd)
		result = m.handle()
		if collect != nil {
			for _, sub := range m.subOrder {
				collect(sub, m.subResults[sub])
			}
		}
	}

	if a, ok := result.(Accept); ok {
		for id, mod := range a.Updates {
			if mod.New == nil {
				delete(r.nodes, id)
			} else {
				r.nodes[id] = mod.New
			}
		}
	}
	if collect != nil {
		collect(cmd.CommandID(), result)
	}
	return result
}

// ApplyAll applies commands in order and returns the results by command id.
func (r *MutableTreeRevision) ApplyAll(commands []Command) map[ID]CommandResult {
	results := make(map[ID]CommandResult, len(commands))
	for _, cmd := range commands {
		r.ApplyWithResults(cmd, func(id ID, res CommandResult) {
			results[id] = res
		})
	}
	return results
}
