package signals

// Rejection reasons.
const (
	ReasonNodeNotFound         = "Node not found"
	ReasonNotNumeric           = "Value is not numeric"
	ReasonKeyNotPresent        = "Key not present"
	ReasonKeyPresent           = "A key is present"
	ReasonKeyInUse             = "Key is in use"
	ReasonUnexpectedValue      = "Unexpected value"
	ReasonUnexpectedChild      = "Unexpected child"
	ReasonUnexpectedLastUpdate = "Unexpected last update"
	ReasonTransactionAborted   = "Transaction aborted"
	ReasonPositionNotMatched   = "Insert position not matched"
	ReasonAdoptAncestor        = "Cannot adopt ancestor"
	ReasonDetachRoot           = "Cannot detach the root"
	ReasonNotAttached          = "Node is not attached"
	ReasonNotDetached          = "Node is not detached"
	ReasonNotAChild            = "Not a child"
	ReasonNotFirstChild        = "Not the first child"
	ReasonNotLastChild         = "Not the last child"
	ReasonNotAfter             = "Not after the provided child"
	ReasonNotBefore            = "Not before the provided child"
	ReasonNodeExists           = "Node already exists"
)

// CommandResult is the outcome of applying a command.
type CommandResult interface {
	Accepted() bool
}

// NodeModification records a node before and after a command. Old is nil for
// created nodes, New is nil for removed ones.
type NodeModification struct {
	Old Node
	New Node
}

// Accept is the result of an accepted command.
type Accept struct {
	Updates map[ID]NodeModification
}

// Reject is the result of a rejected command. Nothing was modified.
type Reject struct {
	Reason string
}

func (Accept) Accepted() bool { return true }
func (Reject) Accepted() bool { return false }

func (r Reject) Error() string {
	return r.Reason
}

func accept() CommandResult {
	return Accept{Updates: map[ID]NodeModification{}}
}

func conditional(ok bool, reason string) CommandResult {
	if ok {
		return accept()
	}
	return Reject{Reason: reason}
}
