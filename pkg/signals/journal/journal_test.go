package journal

import (
	"path/filepath"
	"testing"

	"github.com/grovetools/statesync/pkg/signals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "signals.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndReplay(t *testing.T) {
	j := openJournal(t)

	first := signals.WriteRoot("a")
	second := &signals.PutCommand{ID: signals.NewID(), Target: signals.ZeroID, Key: "k", Value: 1.0}
	seq, err := j.Append("ui", first)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	seq, err = j.Append("ui", second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	var replayed []signals.Command
	require.NoError(t, j.Replay("ui", func(e Entry) error {
		replayed = append(replayed, e.Command)
		return nil
	}))
	assert.Equal(t, []signals.Command{first, second}, replayed)

	n, err := j.Len("ui")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, j.Replay("missing", func(Entry) error {
		t.Fatal("no entries expected")
		return nil
	}))
}

func TestAttachAndRestore(t *testing.T) {
	j := openJournal(t)

	tree := signals.NewSynchronousTree()
	detach := j.Attach("ui", tree)
	tree.CommitSingleCommand(signals.WriteRoot("x"), nil)
	tree.CommitSingleCommand(&signals.IncrementCommand{ID: signals.NewID(), Target: signals.ZeroID, Delta: 1}, nil)
	tree.CommitSingleCommand(&signals.InsertCommand{ID: signals.NewID(), Target: signals.ZeroID, Value: "item", Position: signals.ListLast()}, nil)
	detach()
	tree.CommitSingleCommand(signals.WriteRoot("not journaled"), nil)

	n, err := j.Len("ui")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "rejected commands are not journaled")

	restored := signals.NewAsynchronousTree(signals.NewQueueDispatcher())
	count, err := j.Restore("ui", restored)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "x", signals.RootValue(restored.Confirmed()))
	root, _ := restored.Confirmed().Data(signals.ZeroID)
	assert.Len(t, root.ListChildren, 1)
}

func TestTreesAndDrop(t *testing.T) {
	j := openJournal(t)
	_, err := j.Append("a", signals.WriteRoot(1))
	require.NoError(t, err)
	_, err = j.Append("b", signals.WriteRoot(2))
	require.NoError(t, err)

	names, err := j.Trees()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	require.NoError(t, j.Drop("a"))
	require.NoError(t, j.Drop("a"))
	names, err = j.Trees()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}
