package statetree

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/pkg/reactive"
)

func TestNewTreeRegistersRoot(t *testing.T) {
	tree := NewTree()
	root := tree.Root()

	assert.Equal(t, 1, root.ID())
	assert.True(t, root.IsAttached())
	assert.Nil(t, root.Parent())
	assert.Equal(t, []NodeChange{AttachChange{ID: 1}}, root.Flush())
}

func TestChangesCollectsInDirtyOrder(t *testing.T) {
	tree := NewTree()
	root := tree.Root()
	tree.Changes()

	child := tree.NewNode()
	require.NoError(t, root.Put("child", child))
	require.NoError(t, child.Put("x", 1))

	changes := tree.Changes()
	require.NotEmpty(t, changes)
	// The child is marked dirty by its parent change before the root records the put.
	assert.Same(t, child, changes[0].Node)

	var rootChanges, childChanges []NodeChange
	for _, c := range changes {
		switch c.Node {
		case root:
			rootChanges = append(rootChanges, c.Change)
		case child:
			childChanges = append(childChanges, c.Change)
		}
	}
	assert.Equal(t, []NodeChange{PutChange{Key: "child", Value: child}}, rootChanges)
	assert.Equal(t, []NodeChange{
		AttachChange{ID: child.ID()},
		ParentChange{NewParent: root},
		PutChange{Key: "x", Value: 1},
	}, childChanges)

	assert.False(t, tree.HasChanges())
	assert.Empty(t, tree.Changes())
}

func TestDetachedNodesAreSkipped(t *testing.T) {
	tree := NewTree()
	root := tree.Root()
	child := tree.NewNode()
	require.NoError(t, root.Put("child", child))
	tree.Changes()

	root.Remove("child")
	require.NoError(t, child.Put("x", 1))

	for _, c := range tree.Changes() {
		assert.NotSame(t, child, c.Node)
	}
}

func TestRollback(t *testing.T) {
	tree := NewTree()
	root := tree.Root()
	require.NoError(t, root.Put("a", 1))
	kept := tree.NewNode()
	require.NoError(t, root.Put("kept", kept))
	tree.Changes()

	child := tree.NewNode()
	require.NoError(t, root.Put("a", 2))
	require.NoError(t, root.Put("b", 3))
	require.NoError(t, root.ListAppend("xs", "x"))
	require.NoError(t, root.Put("child", child))
	root.Remove("kept")
	assert.True(t, tree.HasChanges())

	require.NoError(t, tree.Rollback())

	a, _ := root.Get("a")
	assert.Equal(t, 1, a)
	assert.False(t, root.Has("b"))
	assert.False(t, root.Has("child"))
	assert.Equal(t, 0, root.ListLen("xs"))
	assert.False(t, child.IsAttached())

	assert.True(t, kept.IsAttached())
	assert.Same(t, root, kept.Parent())
	found, ok := tree.NodeByID(kept.ID())
	require.True(t, ok)
	assert.Same(t, kept, found)

	assert.False(t, tree.HasChanges())
	assert.Empty(t, root.Flush())
	assert.Empty(t, kept.Flush())
}

func TestSchedulerDeliversChanges(t *testing.T) {
	scheduler := reactive.NewScheduler()
	tree := NewTree(WithScheduler(scheduler))
	root := tree.Root()

	var batches [][]Change
	tree.OnChanges(func(changes []Change) {
		batches = append(batches, changes)
	})

	assert.True(t, scheduler.HasPendingFlush())
	require.NoError(t, scheduler.Flush())
	require.Len(t, batches, 1)
	assert.Equal(t, AttachChange{ID: 1}, batches[0][0].Change)

	require.NoError(t, root.Put("a", 1))
	require.NoError(t, root.Put("b", 2))
	require.NoError(t, scheduler.Flush())
	require.Len(t, batches, 2)
	assert.Len(t, batches[1], 2)

	require.NoError(t, scheduler.Flush())
	assert.Len(t, batches, 2, "nothing pending, nothing delivered")
}

func TestComputationTracksNodeReads(t *testing.T) {
	scheduler := reactive.NewScheduler()
	tree := NewTree(WithScheduler(scheduler))
	root := tree.Root()
	require.NoError(t, root.Put("name", "a"))

	var seen []any
	c := scheduler.RunWhenDependenciesChange(func() {
		v, _ := root.Get("name")
		seen = append(seen, v)
	})
	require.NoError(t, scheduler.Flush())
	assert.Equal(t, []any{"a"}, seen)

	require.NoError(t, root.Put("name", "b"))
	require.NoError(t, scheduler.Flush())
	assert.Equal(t, []any{"a", "b"}, seen)

	c.Stop()
	require.NoError(t, root.Put("name", "c"))
	require.NoError(t, scheduler.Flush())
	assert.Equal(t, 2, c.Runs())
}

func TestReactiveListenerSeesChangeEvents(t *testing.T) {
	tree := NewTree()
	root := tree.Root()

	var events []ChangeEvent
	remover := root.AddReactiveListener(func(e reactive.Event) {
		events = append(events, e.(ChangeEvent))
	})
	require.NoError(t, root.Put("a", 1))
	remover.Remove()
	require.NoError(t, root.Put("a", 2))

	require.Len(t, events, 1)
	assert.Same(t, root, events[0].Source())
	assert.Equal(t, PutChange{Key: "a", Value: 1}, events[0].Change)
}

func TestSnapshot(t *testing.T) {
	tree := NewTree()
	root := tree.Root()
	child := tree.NewNode()
	require.NoError(t, child.Put("leaf", "v"))
	require.NoError(t, root.Put("title", "t"))
	require.NoError(t, root.ListAppend("items", child))

	snap := Snapshot(root)
	assert.Equal(t, 1, snap.ID)
	assert.Equal(t, "t", snap.Properties["title"])
	require.Len(t, snap.Lists["items"], 1)
	childSnap, ok := snap.Lists["items"][0].(*NodeSnapshot)
	require.True(t, ok)
	assert.Equal(t, child.ID(), childSnap.ID)
	assert.Equal(t, map[string]any{"leaf": "v"}, childSnap.Properties)
	assert.Nil(t, childSnap.Lists)
}

func TestRollbackReportsUnrevertableChange(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	tree := NewTree(WithLogger(logrus.NewEntry(logger)))
	root := tree.Root()
	tree.Changes()

	require.NoError(t, root.Put("a", 1))
	// A journal entry whose list no longer exists cannot be undone.
	tree.journal = append(tree.journal, Change{Node: root, Change: ListInsertChange{Key: "gone", Index: 2, Value: "x"}})
	require.NoError(t, root.Put("b", 2))

	err := tree.Rollback()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(err))

	// The remaining changes were still reverted.
	assert.False(t, root.Has("a"))
	assert.False(t, root.Has("b"))
	assert.False(t, tree.HasChanges())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "splice-insert", entry.Data["change"])
	assert.Equal(t, 1, entry.Data["node"])
}
