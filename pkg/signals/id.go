// Package signals implements signal trees: command-driven state containers
// with an optimistic "submitted" view and an authoritative "confirmed" view.
//
// Nodes are addressed by ID. Every command carries its own ID, which also
// becomes the ID of any node the command creates and the LastUpdate marker
// of any node it modifies.
package signals

import "github.com/oklog/ulid/v2"

// ID identifies a signal node or a command.
type ID string

const (
	// ZeroID is the id of the root node.
	ZeroID ID = "00000000000000000000000000"
	// EdgeID marks the start or end of a list in a ListPosition.
	EdgeID ID = "7ZZZZZZZZZZZZZZZZZZZZZZZZZ"
)

// NewID returns a new, lexically sortable id.
func NewID() ID {
	return ID(ulid.Make().String())
}

// ParseID validates s as an id.
func ParseID(s string) (ID, error) {
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", err
	}
	return ID(s), nil
}

func (id ID) String() string {
	return string(id)
}

// ListPosition selects an insertion point in a list by naming the adjacent
// children. EdgeID stands for the start (After) or end (Before) of the list.
type ListPosition struct {
	After  ID `json:"after,omitempty"`
	Before ID `json:"before,omitempty"`
}

// ListFirst positions at the start of the list.
func ListFirst() ListPosition {
	return ListPosition{After: EdgeID}
}

// ListLast positions at the end of the list.
func ListLast() ListPosition {
	return ListPosition{Before: EdgeID}
}

// ListAfter positions directly after child.
func ListAfter(child ID) ListPosition {
	return ListPosition{After: child}
}

// ListBefore positions directly before child.
func ListBefore(child ID) ListPosition {
	return ListPosition{Before: child}
}
