package signals

import (
	"testing"
	"time"

	"github.com/grovetools/statesync/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynchronousTreeWriteRoot(t *testing.T) {
	tree := NewSynchronousTree()
	assert.Equal(t, Synchronous, tree.Type())
	assert.Equal(t, "synchronous", tree.Type().String())

	var result CommandResult
	tree.CommitSingleCommand(WriteRoot("x"), func(r CommandResult) { result = r })

	require.NotNil(t, result, "handler runs before commit returns")
	assert.True(t, result.Accepted())
	assert.Equal(t, "x", RootValue(tree.Submitted()))
	assert.Equal(t, "x", RootValue(tree.Confirmed()))
}

func TestAsynchronousTreeConfirmsThroughDispatcher(t *testing.T) {
	dispatcher := NewQueueDispatcher()
	tree := NewAsynchronousTree(dispatcher)
	assert.Equal(t, Asynchronous, tree.Type())

	var result CommandResult
	tree.CommitSingleCommand(WriteRoot("x"), func(r CommandResult) { result = r })

	assert.Equal(t, "x", RootValue(tree.Submitted()))
	assert.Nil(t, RootValue(tree.Confirmed()))
	assert.Nil(t, result)
	assert.Equal(t, 1, tree.PendingCount())
	assert.Equal(t, 1, dispatcher.Pending())

	assert.Equal(t, 1, dispatcher.RunPendingTasks())
	assert.Equal(t, "x", RootValue(tree.Confirmed()))
	assert.Equal(t, "x", RootValue(tree.Submitted()))
	require.NotNil(t, result)
	assert.True(t, result.Accepted())
	assert.Zero(t, tree.PendingCount())
}

func TestAsynchronousTreeConfirmsInSubmissionOrder(t *testing.T) {
	dispatcher := NewQueueDispatcher()
	tree := NewAsynchronousTree(dispatcher)

	var order []string
	tree.SubscribeToProcessed(func(cmd Command, _ CommandResult) {
		order = append(order, cmd.(*SetCommand).Value.(string))
	})
	for _, v := range []string{"a", "b", "c"} {
		tree.CommitSingleCommand(WriteRoot(v), nil)
	}
	dispatcher.RunPendingTasks()

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, "c", RootValue(tree.Confirmed()))
}

func TestAsynchronousTreeConflictRejectsOnConfirmation(t *testing.T) {
	dispatcher := NewQueueDispatcher()
	tree := NewAsynchronousTree(dispatcher)

	guarded := Transaction(
		&ValueCondition{ID: NewID(), Target: ZeroID, Expected: nil},
		&SetCommand{ID: NewID(), Target: ZeroID, Value: "mine"},
	)
	var result CommandResult
	tree.CommitSingleCommand(guarded, func(r CommandResult) { result = r })
	assert.Equal(t, "mine", RootValue(tree.Submitted()))

	tree.Confirm([]Command{WriteRoot("theirs")})
	assert.Equal(t, "theirs", RootValue(tree.Submitted()), "pending command no longer applies")

	dispatcher.RunPendingTasks()
	require.NotNil(t, result)
	assert.False(t, result.Accepted())
	assert.Equal(t, ReasonUnexpectedValue, result.(Reject).Reason)
	assert.Equal(t, "theirs", RootValue(tree.Confirmed()))
	assert.Equal(t, "theirs", RootValue(tree.Submitted()))
}

func TestAsynchronousTreeWithSubmitter(t *testing.T) {
	var submitted []Command
	tree := NewAsynchronousTree(ImmediateDispatcher, WithSubmitter(SubmitterFunc(func(cmds []Command) {
		submitted = append(submitted, cmds...)
	})))

	cmd := WriteRoot(1)
	tree.CommitSingleCommand(cmd, nil)
	require.Len(t, submitted, 1)
	assert.Nil(t, RootValue(tree.Confirmed()))

	tree.Confirm(submitted)
	assert.Equal(t, 1.0, RootValue(tree.Confirmed()))
}

func TestGoroutineDispatcher(t *testing.T) {
	dispatcher := NewGoroutineDispatcher(8)
	tree := NewAsynchronousTree(dispatcher)

	done := make(chan CommandResult, 1)
	tree.CommitSingleCommand(WriteRoot("x"), func(r CommandResult) { done <- r })

	select {
	case r := <-done:
		assert.True(t, r.Accepted())
	case <-time.After(5 * time.Second):
		t.Fatal("command was not confirmed")
	}
	dispatcher.Close()
	dispatcher.Close()
	assert.Equal(t, "x", RootValue(tree.Confirmed()))

	dispatcher.Dispatch(func() { t.Error("task ran after close") })
}

func TestGoroutineDispatcherAcceptsTasksFromTasks(t *testing.T) {
	dispatcher := NewGoroutineDispatcher(1)
	defer dispatcher.Close()

	const depth = 200
	var order []int
	done := make(chan struct{})
	var step func(i int)
	step = func(i int) {
		order = append(order, i)
		if i == depth {
			close(done)
			return
		}
		// Queue more than the initial capacity before returning.
		dispatcher.Dispatch(func() { step(i + 1) })
		dispatcher.Dispatch(func() {})
	}
	dispatcher.Dispatch(func() { step(0) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("re-dispatched tasks did not run")
	}
	require.Len(t, order, depth+1)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestGoroutineDispatcherCloseDrainsQueue(t *testing.T) {
	dispatcher := NewGoroutineDispatcher(0)
	release := make(chan struct{})
	ran := 0
	dispatcher.Dispatch(func() { <-release })
	for i := 0; i < 10; i++ {
		dispatcher.Dispatch(func() { ran++ })
	}

	closed := make(chan struct{})
	go func() {
		dispatcher.Close()
		close(closed)
	}()
	close(release)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, 10, ran)
}

func TestRejectionLeavesStateUnchanged(t *testing.T) {
	tree := NewSynchronousTree()
	tree.CommitSingleCommand(WriteRoot("text"), nil)
	before := tree.Confirmed().Nodes()

	var result CommandResult
	tree.CommitSingleCommand(&IncrementCommand{ID: NewID(), Target: ZeroID, Delta: 1}, func(r CommandResult) { result = r })

	require.False(t, result.Accepted())
	assert.Equal(t, ReasonNotNumeric, result.(Reject).Reason)
	assert.Equal(t, before, tree.Confirmed().Nodes())
}

func TestIncrement(t *testing.T) {
	rev := NewMutableTreeRevision()
	require.True(t, rev.Apply(&IncrementCommand{ID: NewID(), Target: ZeroID, Delta: 2}).Accepted())
	require.True(t, rev.Apply(&IncrementCommand{ID: NewID(), Target: ZeroID, Delta: 0.5}).Accepted())
	assert.Equal(t, 2.5, RootValue(&rev.TreeRevision))
}

func TestUnknownTarget(t *testing.T) {
	rev := NewMutableTreeRevision()
	res := rev.Apply(&SetCommand{ID: NewID(), Target: NewID(), Value: 1})
	assert.Equal(t, Reject{Reason: ReasonNodeNotFound}, res)
}

func TestListInsertPositions(t *testing.T) {
	rev := NewMutableTreeRevision()
	insert := func(value string, pos ListPosition) ID {
		cmd := &InsertCommand{ID: NewID(), Target: ZeroID, Value: value, Position: pos}
		require.True(t, rev.Apply(cmd).Accepted(), "insert %s", value)
		return cmd.ID
	}

	b := insert("b", ListLast())
	d := insert("d", ListLast())
	a := insert("a", ListFirst())
	c := insert("c", ListAfter(b))
	e := insert("e", ListPosition{After: d, Before: EdgeID})

	root, _ := rev.Data(ZeroID)
	assert.Equal(t, []ID{a, b, c, d, e}, root.ListChildren)
	child, ok := rev.Data(c)
	require.True(t, ok)
	assert.Equal(t, ZeroID, child.Parent)
	assert.Equal(t, "c", child.Value)

	bad := &InsertCommand{ID: NewID(), Target: ZeroID, Value: "x", Position: ListPosition{After: a, Before: d}}
	assert.Equal(t, Reject{Reason: ReasonPositionNotMatched}, rev.Apply(bad))
	_, exists := rev.Data(bad.ID)
	assert.False(t, exists)

	assert.True(t, rev.Apply(&PositionCondition{ID: NewID(), Target: ZeroID, Child: a, Position: ListFirst()}).Accepted())
	assert.True(t, rev.Apply(&PositionCondition{ID: NewID(), Target: ZeroID, Child: c, Position: ListPosition{After: b, Before: d}}).Accepted())
	assert.Equal(t, Reject{Reason: ReasonNotLastChild},
		rev.Apply(&PositionCondition{ID: NewID(), Target: ZeroID, Child: d, Position: ListLast()}))
}

func TestMapChildren(t *testing.T) {
	rev := NewMutableTreeRevision()
	put := &PutCommand{ID: NewID(), Target: ZeroID, Key: "name", Value: "a"}
	require.True(t, rev.Apply(put).Accepted())
	require.True(t, rev.Apply(&PutCommand{ID: NewID(), Target: ZeroID, Key: "name", Value: "b"}).Accepted())

	assert.Equal(t, "b", rev.Value(put.ID), "second put updates the existing child")

	alias := &PutIfAbsentCommand{ID: NewID(), Target: ZeroID, Key: "name", Value: "c"}
	require.True(t, rev.Apply(alias).Accepted())
	assert.Equal(t, "b", rev.Value(alias.ID))
	node, _ := rev.Node(alias.ID)
	assert.Equal(t, Alias{Target: put.ID}, node)

	assert.True(t, rev.Apply(&KeyCondition{ID: NewID(), Target: ZeroID, Key: "name"}).Accepted())
	assert.True(t, rev.Apply(&KeyCondition{ID: NewID(), Target: ZeroID, Key: "name", ExpectedChild: alias.ID}).Accepted())
	assert.Equal(t, Reject{Reason: ReasonKeyPresent},
		rev.Apply(&KeyCondition{ID: NewID(), Target: ZeroID, Key: "name", ExpectedChild: ZeroID}))

	require.True(t, rev.Apply(&RemoveByKeyCommand{ID: NewID(), Target: ZeroID, Key: "name"}).Accepted())
	_, exists := rev.Node(put.ID)
	assert.False(t, exists)
	_, exists = rev.Node(alias.ID)
	assert.False(t, exists, "aliases are removed with their target")

	assert.Equal(t, Reject{Reason: ReasonKeyNotPresent},
		rev.Apply(&RemoveByKeyCommand{ID: NewID(), Target: ZeroID, Key: "name"}))
}

func TestLastUpdateCondition(t *testing.T) {
	rev := NewMutableTreeRevision()
	set := WriteRoot("v")
	require.True(t, rev.Apply(set).Accepted())

	assert.True(t, rev.Apply(&LastUpdateCondition{ID: NewID(), Target: ZeroID, ExpectedLastUpdate: set.ID}).Accepted())
	assert.Equal(t, Reject{Reason: ReasonUnexpectedLastUpdate},
		rev.Apply(&LastUpdateCondition{ID: NewID(), Target: ZeroID, ExpectedLastUpdate: NewID()}))
}

func TestRemoveDropsSubtree(t *testing.T) {
	rev := NewMutableTreeRevision()
	parent := &InsertCommand{ID: NewID(), Target: ZeroID, Value: "parent", Position: ListLast()}
	require.True(t, rev.Apply(parent).Accepted())
	child := &PutCommand{ID: NewID(), Target: parent.ID, Key: "k", Value: "child"}
	require.True(t, rev.Apply(child).Accepted())

	assert.Equal(t, Reject{Reason: ReasonNotAChild},
		rev.Apply(&RemoveCommand{ID: NewID(), Target: child.ID, ExpectedParent: ZeroID}))

	res := rev.Apply(&RemoveCommand{ID: NewID(), Target: parent.ID, ExpectedParent: ZeroID})
	require.True(t, res.Accepted())
	updates := res.(Accept).Updates
	assert.Nil(t, updates[parent.ID].New)
	assert.Nil(t, updates[child.ID].New)
	assert.Equal(t, 1, rev.Len())

	assert.Equal(t, Reject{Reason: ReasonDetachRoot}, rev.Apply(&RemoveCommand{ID: NewID(), Target: ZeroID}))
}

func TestClear(t *testing.T) {
	rev := NewMutableTreeRevision()
	require.True(t, rev.Apply(WriteRoot("keep")).Accepted())
	require.True(t, rev.Apply(&InsertCommand{ID: NewID(), Target: ZeroID, Value: 1, Position: ListLast()}).Accepted())
	require.True(t, rev.Apply(&PutCommand{ID: NewID(), Target: ZeroID, Key: "k", Value: 2}).Accepted())

	require.True(t, rev.Apply(&ClearCommand{ID: NewID(), Target: ZeroID}).Accepted())
	root, _ := rev.Data(ZeroID)
	assert.Empty(t, root.ListChildren)
	assert.Empty(t, root.MapChildren)
	assert.Equal(t, "keep", root.Value)
	assert.Equal(t, 1, rev.Len())
}

func TestAdopt(t *testing.T) {
	rev := NewMutableTreeRevision()
	a := &InsertCommand{ID: NewID(), Target: ZeroID, Value: "a", Position: ListLast()}
	b := &InsertCommand{ID: NewID(), Target: ZeroID, Value: "b", Position: ListLast()}
	require.True(t, rev.Apply(a).Accepted())
	require.True(t, rev.Apply(b).Accepted())

	require.True(t, rev.Apply(&AdoptAtCommand{ID: NewID(), Target: ZeroID, Child: b.ID, Position: ListFirst()}).Accepted())
	root, _ := rev.Data(ZeroID)
	assert.Equal(t, []ID{b.ID, a.ID}, root.ListChildren)

	require.True(t, rev.Apply(&AdoptAsCommand{ID: NewID(), Target: a.ID, Child: b.ID, Key: "moved"}).Accepted())
	moved, _ := rev.Data(b.ID)
	assert.Equal(t, a.ID, moved.Parent)

	before := rev.Nodes()
	res := rev.Apply(&AdoptAtCommand{ID: NewID(), Target: b.ID, Child: a.ID, Position: ListLast()})
	assert.Equal(t, Reject{Reason: ReasonAdoptAncestor}, res)
	assert.Equal(t, before, rev.Nodes())
}

func TestTransactionIsAllOrNothing(t *testing.T) {
	rev := NewMutableTreeRevision()
	set := WriteRoot("changed")
	insert := &InsertCommand{ID: NewID(), Target: ZeroID, Value: "x", Position: ListLast()}
	failing := &ValueCondition{ID: NewID(), Target: ZeroID, Expected: "something else"}
	tx := Transaction(set, insert, failing)

	results := make(map[ID]CommandResult)
	res := rev.ApplyWithResults(tx, func(id ID, r CommandResult) { results[id] = r })

	assert.Equal(t, Reject{Reason: ReasonUnexpectedValue}, res)
	assert.Nil(t, RootValue(&rev.TreeRevision))
	assert.Equal(t, 1, rev.Len())
	assert.Equal(t, Reject{Reason: ReasonTransactionAborted}, results[set.ID])
	assert.Equal(t, Reject{Reason: ReasonTransactionAborted}, results[insert.ID])
	assert.Equal(t, Reject{Reason: ReasonUnexpectedValue}, results[failing.ID])
	assert.Equal(t, res, results[tx.ID])

	ok := Transaction(WriteRoot("a"), WriteRoot("b"))
	res = rev.Apply(ok)
	require.True(t, res.Accepted())
	mod := res.(Accept).Updates[ZeroID]
	assert.Nil(t, mod.Old.(Data).Value)
	assert.Equal(t, "b", mod.New.(Data).Value)
}

func TestObserveNextChange(t *testing.T) {
	tree := NewSynchronousTree()
	calls := 0
	tree.ObserveNextChange(ZeroID, func() { calls++ })

	tree.CommitSingleCommand(WriteRoot(1), nil)
	tree.CommitSingleCommand(WriteRoot(2), nil)
	assert.Equal(t, 1, calls, "observers fire once")

	cancel := tree.ObserveNextChange(ZeroID, func() { calls++ })
	cancel()
	tree.CommitSingleCommand(WriteRoot(3), nil)
	assert.Equal(t, 1, calls)
}

func TestSubscribeToProcessed(t *testing.T) {
	tree := NewSynchronousTree()
	var seen []bool
	cancel := tree.SubscribeToProcessed(func(_ Command, r CommandResult) {
		seen = append(seen, r.Accepted())
	})

	tree.CommitSingleCommand(WriteRoot("x"), nil)
	tree.CommitSingleCommand(&IncrementCommand{ID: NewID(), Target: ZeroID, Delta: 1}, nil)
	cancel()
	tree.CommitSingleCommand(WriteRoot("y"), nil)

	assert.Equal(t, []bool{true, false}, seen)
}

func TestCommandCodecRoundTrip(t *testing.T) {
	tx := Transaction(
		&ValueCondition{ID: NewID(), Target: ZeroID, Expected: map[string]any{"a": 1.0}},
		&InsertCommand{ID: NewID(), Target: ZeroID, Value: []any{"x", 2.0}, Position: ListAfter(EdgeID)},
		&RemoveCommand{ID: NewID(), Target: NewID()},
	)

	data, err := MarshalCommand(tx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"transaction"`)

	decoded, err := UnmarshalCommand(data)
	require.NoError(t, err)
	assert.Equal(t, tx, decoded)
}

func TestUnmarshalCommandErrors(t *testing.T) {
	_, err := UnmarshalCommand([]byte(`{"type":"teleport"}`))
	assert.True(t, errors.Is(err, errors.ErrCodeUnknownCommand))

	_, err = UnmarshalCommand([]byte(`{"type":`))
	assert.True(t, errors.Is(err, errors.ErrCodeMalformedJSON))
}

func TestIDs(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	parsed, err := ParseID(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	for _, id := range []ID{ZeroID, EdgeID} {
		_, err := ParseID(string(id))
		assert.NoError(t, err)
	}
	_, err = ParseID("not-an-id")
	assert.Error(t, err)
}
