package store

import (
	"encoding/json"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/statetree"
)

// Apply runs ops in order as one update: if any operation fails the tree is
// left as it was. It returns the ids of nodes created by create operations.
func (s *Session) Apply(ops []codec.Operation) ([]int, error) {
	var created []int
	err := s.Update(func(tree *statetree.Tree) error {
		for i, op := range ops {
			id, err := applyOperation(tree, op)
			if err != nil {
				if syncErr, ok := err.(*errors.SyncError); ok {
					return syncErr.WithDetail("operation", i)
				}
				return err
			}
			if id != 0 {
				created = append(created, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func applyOperation(tree *statetree.Tree, op codec.Operation) (int, error) {
	node, ok := tree.NodeByID(op.Node)
	if !ok {
		return 0, errors.UnknownNode(op.Node)
	}
	if op.Key == "" {
		return 0, errors.New(errors.ErrCodeInvalidInput, "operation requires a key").
			WithDetail("op", op.Op)
	}

	switch op.Op {
	case codec.OpCreate:
		child := tree.NewNode()
		if err := node.Put(op.Key, child); err != nil {
			return 0, err
		}
		return child.ID(), nil
	case codec.OpRemove:
		node.Remove(op.Key)
		return 0, nil
	case codec.OpListRemove:
		index, err := requireIndex(op)
		if err != nil {
			return 0, err
		}
		return 0, node.ListRemove(op.Key, index)
	case codec.OpPut, codec.OpAppend, codec.OpInsert, codec.OpReplace:
	default:
		return 0, errors.New(errors.ErrCodeInvalidInput, "unknown operation").
			WithDetail("op", op.Op)
	}

	value, err := decodeValue(tree, op.Value)
	if err != nil {
		return 0, err
	}
	switch op.Op {
	case codec.OpPut:
		return 0, node.Put(op.Key, value)
	case codec.OpAppend:
		return 0, node.ListAppend(op.Key, value)
	}

	index, err := requireIndex(op)
	if err != nil {
		return 0, err
	}
	if op.Op == codec.OpInsert {
		return 0, node.ListInsert(op.Key, index, value)
	}
	return 0, node.ListReplace(op.Key, index, value)
}

func decodeValue(tree *statetree.Tree, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return codec.DecodeWithTypeInfo(tree, raw)
}

func requireIndex(op codec.Operation) (int, error) {
	if op.Index == nil {
		return 0, errors.New(errors.ErrCodeInvalidInput, "operation requires an index").
			WithDetail("op", op.Op)
	}
	return *op.Index, nil
}
