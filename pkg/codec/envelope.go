package codec

import (
	"encoding/json"

	"github.com/grovetools/statesync/pkg/statetree"
)

// Operation kinds a client may send.
const (
	OpPut        = "put"
	OpRemove     = "remove"
	OpCreate     = "create"
	OpAppend     = "append"
	OpInsert     = "insert"
	OpReplace    = "replace"
	OpListRemove = "list-remove"
)

// Operation is one typed mutation sent by a client. Value uses the typed
// encoding, so [0,id] refers to an attached node.
type Operation struct {
	Op    string          `json:"op"`
	Node  int             `json:"node"`
	Key   string          `json:"key"`
	Index *int            `json:"index,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Envelope types on the push channel.
const (
	EnvelopeSnapshot = "snapshot"
	EnvelopeSync     = "sync"
	EnvelopeOps      = "ops"
	EnvelopeAck      = "ack"
	EnvelopeError    = "error"
)

// Envelope is one message on the push channel. The server sends a snapshot
// on connect, then a sync per flush; clients send ops and get an ack or an
// error back.
type Envelope struct {
	Type    string                  `json:"type"`
	SyncID  uint64                  `json:"syncId,omitempty"`
	Tree    *statetree.NodeSnapshot `json:"tree,omitempty"`
	Changes []ChangeMessage         `json:"changes,omitempty"`
	Ops     []Operation             `json:"ops,omitempty"`
	Created []int                   `json:"created,omitempty"`
	Error   *ErrorBody              `json:"error,omitempty"`
}

// ErrorBody carries a coded error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SyncEnvelope wraps a flush batch.
func SyncEnvelope(msg SyncMessage) Envelope {
	return Envelope{Type: EnvelopeSync, SyncID: msg.SyncID, Changes: msg.Changes}
}
