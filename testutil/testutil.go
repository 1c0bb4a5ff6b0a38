// Package testutil provides fixtures shared by statesync tests.
package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grovetools/statesync/pkg/signals"
	"github.com/grovetools/statesync/pkg/statetree"
)

// NewTree builds a tree whose root holds the JSON object in state. Nested
// objects become child nodes and arrays become lists.
func NewTree(t *testing.T, state string) *statetree.Tree {
	t.Helper()
	tree := statetree.NewTree()
	if state == "" {
		return tree
	}
	var values map[string]any
	require.NoError(t, json.Unmarshal([]byte(state), &values))
	require.NoError(t, tree.Root().Populate(values))
	return tree
}

// ChildNode returns the node stored under key, failing the test otherwise.
func ChildNode(t *testing.T, node *statetree.StateNode, key string) *statetree.StateNode {
	t.Helper()
	child := node.GetNode(key)
	require.NotNil(t, child, "no child node under %q", key)
	return child
}

// AsyncTree is an asynchronous signal tree whose confirmations run only when
// the test asks for them.
type AsyncTree struct {
	*signals.AsynchronousTree
	Dispatcher *signals.QueueDispatcher
}

// NewAsyncTree creates an AsyncTree backed by a QueueDispatcher.
func NewAsyncTree(opts ...signals.Option) *AsyncTree {
	dispatcher := signals.NewQueueDispatcher()
	return &AsyncTree{
		AsynchronousTree: signals.NewAsynchronousTree(dispatcher, opts...),
		Dispatcher:       dispatcher,
	}
}

// Result captures the confirmed result of one committed command.
type Result struct {
	value signals.CommandResult
}

// Value returns the result, or nil while the command is unconfirmed.
func (r *Result) Value() signals.CommandResult {
	return r.value
}

// Commit commits cmd and returns a Result filled in on confirmation.
func (a *AsyncTree) Commit(cmd signals.Command) *Result {
	r := &Result{}
	a.CommitSingleCommand(cmd, func(res signals.CommandResult) { r.value = res })
	return r
}

// ConfirmAll runs every queued confirmation and returns how many ran.
func (a *AsyncTree) ConfirmAll() int {
	return a.Dispatcher.RunPendingTasks()
}
