package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/signals"
	"github.com/grovetools/statesync/pkg/statetree"
)

func receive(t *testing.T, updates <-chan store.Update, want store.UpdateType) store.Update {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Type == want {
				return u
			}
		case <-timeout:
			t.Fatalf("no %s update received", want)
		}
	}
}

func TestFlushAllPublishesChangedSessions(t *testing.T) {
	st := store.New()
	idle, err := st.CreateSession("", "idle")
	require.NoError(t, err)
	busy, err := st.CreateSession("", "busy")
	require.NoError(t, err)

	c := NewFlushCollector(0)
	updates := make(chan store.Update, 10)
	require.NoError(t, c.FlushAll(context.Background(), st, updates))
	assert.Len(t, updates, 2)
	for len(updates) > 0 {
		<-updates
	}

	require.NoError(t, busy.Update(func(tree *statetree.Tree) error {
		return tree.Root().Put("count", 1)
	}))
	require.NoError(t, c.FlushAll(context.Background(), st, updates))
	require.Len(t, updates, 1)

	u := <-updates
	assert.Equal(t, store.UpdateChanges, u.Type)
	assert.Equal(t, busy.ID, u.SessionID)
	assert.NotEqual(t, idle.ID, u.SessionID)
	msg, ok := u.Payload.(codec.SyncMessage)
	require.True(t, ok)
	assert.Equal(t, uint64(2), msg.SyncID)
	require.Len(t, msg.Changes, 1)
	assert.Equal(t, "count", msg.Changes[0].Key)
}

func TestFlushCollectorRunsOnInterval(t *testing.T) {
	st := store.New()
	sess, err := st.CreateSession("", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan store.Update, 10)
	done := make(chan error, 1)
	go func() { done <- NewFlushCollector(5*time.Millisecond).Run(ctx, st, updates) }()

	u := receive(t, updates, store.UpdateChanges)
	assert.Equal(t, sess.ID, u.SessionID)

	cancel()
	require.NoError(t, <-done)
}

func TestSignalCollectorFollowsSessions(t *testing.T) {
	st := store.New()
	first, err := st.CreateSession("", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan store.Update, 10)
	go func() { _ = NewSignalCollector().Run(ctx, st, updates) }()

	// Sessions created after Run starts are picked up through the store.
	require.Eventually(t, func() bool {
		cmd := signals.WriteRoot("probe")
		if _, err := first.CommitSignal(ctx, cmd); err != nil {
			return false
		}
		select {
		case u := <-updates:
			return u.Type == store.UpdateSignals
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	second, err := st.CreateSession("", "")
	require.NoError(t, err)
	_, err = second.CommitSignal(ctx, signals.WriteRoot("text"))
	require.NoError(t, err)

	var event store.SignalEvent
	require.Eventually(t, func() bool {
		cmd := &signals.IncrementCommand{ID: signals.NewID(), Target: signals.ZeroID, Delta: 1}
		if _, err := second.CommitSignal(ctx, cmd); err != nil {
			return false
		}
		select {
		case u := <-updates:
			if u.Type != store.UpdateSignals || u.SessionID != second.ID {
				return false
			}
			event = u.Payload.(store.SignalEvent)
			return event.Command == "increment"
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "increment", event.Command)
	assert.False(t, event.Accepted)
	assert.Equal(t, signals.ReasonNotNumeric, event.Reason)
}

func TestFlushAllPublishesSealedBatchesInOrder(t *testing.T) {
	st := store.New()
	sess, err := st.CreateSession("", "")
	require.NoError(t, err)

	// A snapshot seals the pending attach batch; the put comes after it.
	_, sealedAt := sess.Snapshot()
	require.NoError(t, sess.Update(func(tree *statetree.Tree) error {
		return tree.Root().Put("count", 1)
	}))

	updates := make(chan store.Update, 10)
	require.NoError(t, NewFlushCollector(0).FlushAll(context.Background(), st, updates))
	require.Len(t, updates, 2)

	first := (<-updates).Payload.(codec.SyncMessage)
	second := (<-updates).Payload.(codec.SyncMessage)
	assert.Equal(t, sealedAt, first.SyncID)
	assert.Equal(t, "attach", first.Changes[0].Type)
	assert.Equal(t, sealedAt+1, second.SyncID)
	assert.Equal(t, "count", second.Changes[0].Key)
}
