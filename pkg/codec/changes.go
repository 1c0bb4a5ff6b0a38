package codec

import (
	"encoding/json"

	"github.com/grovetools/statesync/pkg/statetree"
)

// ChangeMessage is the wire form of one node change.
type ChangeMessage struct {
	Node   int             `json:"node"`
	Type   string          `json:"type"`
	Key    string          `json:"key,omitempty"`
	Index  *int            `json:"index,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Parent *int            `json:"parent,omitempty"`
}

// SyncMessage is one flush batch pushed to a client.
type SyncMessage struct {
	SyncID  uint64          `json:"syncId"`
	Changes []ChangeMessage `json:"changes"`
}

// EncodeChanges converts collected tree changes to wire messages.
func EncodeChanges(changes []statetree.Change) ([]ChangeMessage, error) {
	enc := &changeEncoder{out: make([]ChangeMessage, 0, len(changes))}
	for _, c := range changes {
		c.Change.Accept(c.Node, enc)
		if enc.err != nil {
			return nil, enc.err
		}
	}
	return enc.out, nil
}

// EncodeNodeChanges converts the flushed changes of a single node.
func EncodeNodeChanges(node *statetree.StateNode, changes []statetree.NodeChange) ([]ChangeMessage, error) {
	batch := make([]statetree.Change, len(changes))
	for i, c := range changes {
		batch[i] = statetree.Change{Node: node, Change: c}
	}
	return EncodeChanges(batch)
}

type changeEncoder struct {
	out []ChangeMessage
	err error
}

func (e *changeEncoder) emit(node *statetree.StateNode, kind statetree.ChangeKind, fill func(*ChangeMessage) error) {
	msg := ChangeMessage{Node: node.ID(), Type: kind.String()}
	if fill != nil {
		if err := fill(&msg); err != nil {
			e.err = err
			return
		}
	}
	e.out = append(e.out, msg)
}

func value(v any) (json.RawMessage, error) {
	return Marshal(v)
}

func intPtr(i int) *int {
	return &i
}

func (e *changeEncoder) VisitPut(node *statetree.StateNode, c statetree.PutChange) {
	e.emit(node, c.Kind(), func(m *ChangeMessage) (err error) {
		m.Key = c.Key
		m.Value, err = value(c.Value)
		return err
	})
}

func (e *changeEncoder) VisitRemove(node *statetree.StateNode, c statetree.RemoveChange) {
	e.emit(node, c.Kind(), func(m *ChangeMessage) error {
		m.Key = c.Key
		return nil
	})
}

func (e *changeEncoder) VisitListInsert(node *statetree.StateNode, c statetree.ListInsertChange) {
	e.emit(node, c.Kind(), func(m *ChangeMessage) (err error) {
		m.Key = c.Key
		m.Index = intPtr(c.Index)
		m.Value, err = value(c.Value)
		return err
	})
}

func (e *changeEncoder) VisitListReplace(node *statetree.StateNode, c statetree.ListReplaceChange) {
	e.emit(node, c.Kind(), func(m *ChangeMessage) (err error) {
		m.Key = c.Key
		m.Index = intPtr(c.Index)
		m.Value, err = value(c.NewValue)
		return err
	})
}

func (e *changeEncoder) VisitListRemove(node *statetree.StateNode, c statetree.ListRemoveChange) {
	e.emit(node, c.Kind(), func(m *ChangeMessage) error {
		m.Key = c.Key
		m.Index = intPtr(c.Index)
		return nil
	})
}

func (e *changeEncoder) VisitParent(node *statetree.StateNode, c statetree.ParentChange) {
	e.emit(node, c.Kind(), func(m *ChangeMessage) error {
		parent := 0
		if c.NewParent != nil {
			parent = c.NewParent.ID()
		}
		m.Parent = intPtr(parent)
		return nil
	})
}

func (e *changeEncoder) VisitAttach(node *statetree.StateNode, c statetree.AttachChange) {
	e.emit(node, c.Kind(), nil)
}

func (e *changeEncoder) VisitDetach(node *statetree.StateNode, c statetree.DetachChange) {
	e.emit(node, c.Kind(), nil)
}
