package errors

import (
	"fmt"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *SyncError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *SyncError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// NodeAttached is returned when a node that already has a parent is attached elsewhere.
func NodeAttached(id int) *SyncError {
	return New(ErrCodeNodeAttached, "node already has a parent").
		WithDetail("node", id)
}

// NodeCycle is returned when attaching a node would make it its own ancestor.
func NodeCycle(id int) *SyncError {
	return New(ErrCodeNodeCycle, "attaching node would create a cycle").
		WithDetail("node", id)
}

// IndexOutOfRange creates a list index error
func IndexOutOfRange(key string, index, size int) *SyncError {
	return New(ErrCodeIndexOutOfRange,
		fmt.Sprintf("index %d out of range for list '%s' of size %d", index, key, size)).
		WithDetail("key", key).
		WithDetail("index", index).
		WithDetail("size", size)
}

// NotAList is returned when a list operation targets a scalar key.
func NotAList(key string) *SyncError {
	return New(ErrCodeNotAList, fmt.Sprintf("key '%s' does not hold a list", key)).
		WithDetail("key", key)
}

// UnknownNode is returned when a wire reference points at a node the tree does not know.
func UnknownNode(id int) *SyncError {
	return New(ErrCodeUnknownNode, fmt.Sprintf("no node registered with id %d", id)).
		WithDetail("node", id)
}

// UnsupportedType creates an error for values the codec cannot represent
func UnsupportedType(kind string) *SyncError {
	return New(ErrCodeUnsupportedType, fmt.Sprintf("unsupported value type: %s", kind)).
		WithDetail("type", kind)
}

// TemplateSyntax creates a template parse error carrying the offending fragment.
func TemplateSyntax(fragment, reason string) *SyncError {
	return New(ErrCodeTemplateSyntax, fmt.Sprintf("%s near %q", reason, fragment)).
		WithDetail("fragment", fragment)
}

// CommandRejected wraps a signal command rejection reason.
func CommandRejected(commandID, reason string) *SyncError {
	return New(ErrCodeCommandRejected, reason).
		WithDetail("command", commandID)
}

// InvalidFragment creates a push framing error
func InvalidFragment(reason string) *SyncError {
	return New(ErrCodeFragment, reason)
}

// SessionNotFound creates a missing session error
func SessionNotFound(id string) *SyncError {
	return New(ErrCodeSessionGone, fmt.Sprintf("session '%s' not found", id)).
		WithDetail("session", id)
}

// DaemonNotRunning creates an error for operations that need statesyncd
func DaemonNotRunning(op string) *SyncError {
	return New(ErrCodeDaemonAbsent, fmt.Sprintf("%s requires a running daemon; start it with 'statesync serve'", op)).
		WithDetail("operation", op)
}
