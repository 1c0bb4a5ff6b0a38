package statetree

// ChangeKind identifies a NodeChange variant.
type ChangeKind int

const (
	KindPut ChangeKind = iota
	KindRemove
	KindListInsert
	KindListReplace
	KindListRemove
	KindParent
	KindAttach
	KindDetach
)

func (k ChangeKind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindRemove:
		return "remove"
	case KindListInsert:
		return "splice-insert"
	case KindListReplace:
		return "splice-replace"
	case KindListRemove:
		return "splice-remove"
	case KindParent:
		return "parent"
	case KindAttach:
		return "attach"
	case KindDetach:
		return "detach"
	default:
		return "unknown"
	}
}

// NodeChange is one immutable mutation record. The set of variants is
// closed: every Visitor implements one method per kind.
type NodeChange interface {
	Kind() ChangeKind
	Accept(node *StateNode, visitor Visitor)
	isNodeChange()
}

// Visitor handles each NodeChange variant.
type Visitor interface {
	VisitPut(node *StateNode, change PutChange)
	VisitRemove(node *StateNode, change RemoveChange)
	VisitListInsert(node *StateNode, change ListInsertChange)
	VisitListReplace(node *StateNode, change ListReplaceChange)
	VisitListRemove(node *StateNode, change ListRemoveChange)
	VisitParent(node *StateNode, change ParentChange)
	VisitAttach(node *StateNode, change AttachChange)
	VisitDetach(node *StateNode, change DetachChange)
}

// PutChange records a key set to Value. Previous and Replaced describe what
// the key held before, so the change can be reverted.
type PutChange struct {
	Key      string
	Value    any
	Previous any
	Replaced bool
}

// RemoveChange records a key removed together with its last value.
type RemoveChange struct {
	Key   string
	Value any
}

// ListInsertChange records Value inserted at Index of the list under Key.
type ListInsertChange struct {
	Key   string
	Index int
	Value any
}

// ListReplaceChange records the item at Index replaced.
type ListReplaceChange struct {
	Key      string
	Index    int
	OldValue any
	NewValue any
}

// ListRemoveChange records the item at Index removed.
type ListRemoveChange struct {
	Key   string
	Index int
	Value any
}

// ParentChange records the node moving between parents. Either side may be nil.
type ParentChange struct {
	OldParent *StateNode
	NewParent *StateNode
}

// AttachChange records the node becoming reachable from its tree's root.
type AttachChange struct {
	ID int
}

// DetachChange records the node becoming unreachable from its tree's root.
type DetachChange struct {
	ID int
}

func (PutChange) Kind() ChangeKind         { return KindPut }
func (RemoveChange) Kind() ChangeKind      { return KindRemove }
func (ListInsertChange) Kind() ChangeKind  { return KindListInsert }
func (ListReplaceChange) Kind() ChangeKind { return KindListReplace }
func (ListRemoveChange) Kind() ChangeKind  { return KindListRemove }
func (ParentChange) Kind() ChangeKind      { return KindParent }
func (AttachChange) Kind() ChangeKind      { return KindAttach }
func (DetachChange) Kind() ChangeKind      { return KindDetach }

func (c PutChange) Accept(n *StateNode, v Visitor)         { v.VisitPut(n, c) }
func (c RemoveChange) Accept(n *StateNode, v Visitor)      { v.VisitRemove(n, c) }
func (c ListInsertChange) Accept(n *StateNode, v Visitor)  { v.VisitListInsert(n, c) }
func (c ListReplaceChange) Accept(n *StateNode, v Visitor) { v.VisitListReplace(n, c) }
func (c ListRemoveChange) Accept(n *StateNode, v Visitor)  { v.VisitListRemove(n, c) }
func (c ParentChange) Accept(n *StateNode, v Visitor)      { v.VisitParent(n, c) }
func (c AttachChange) Accept(n *StateNode, v Visitor)      { v.VisitAttach(n, c) }
func (c DetachChange) Accept(n *StateNode, v Visitor)      { v.VisitDetach(n, c) }

func (PutChange) isNodeChange()         {}
func (RemoveChange) isNodeChange()      {}
func (ListInsertChange) isNodeChange()  {}
func (ListReplaceChange) isNodeChange() {}
func (ListRemoveChange) isNodeChange()  {}
func (ParentChange) isNodeChange()      {}
func (AttachChange) isNodeChange()      {}
func (DetachChange) isNodeChange()      {}

// Change pairs a NodeChange with the node it belongs to.
type Change struct {
	Node   *StateNode
	Change NodeChange
}

// ChangeEvent is the reactive event fired for every recorded change.
type ChangeEvent struct {
	Node   *StateNode
	Change NodeChange
}
