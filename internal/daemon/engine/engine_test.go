package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/pkg/codec"
)

type scriptedCollector struct {
	updates []store.Update
	err     error
}

func (c *scriptedCollector) Name() string { return "scripted" }

func (c *scriptedCollector) Run(ctx context.Context, _ *store.Store, updates chan<- store.Update) error {
	for _, u := range c.updates {
		updates <- u
	}
	if c.err != nil {
		return c.err
	}
	<-ctx.Done()
	return nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func TestEngineForwardsUpdatesAndCountsThem(t *testing.T) {
	st := store.New()
	sess, err := st.CreateSession("", "")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	eng := New(st, metrics, testLogger())
	eng.Register(&scriptedCollector{updates: []store.Update{
		{Type: store.UpdateChanges, SessionID: sess.ID, Payload: codec.SyncMessage{
			SyncID:  1,
			Changes: []codec.ChangeMessage{{Node: 1, Type: "attach"}, {Node: 1, Type: "put", Key: "a"}},
		}},
		{Type: store.UpdateSignals, SessionID: sess.ID, Payload: store.SignalEvent{Command: "set", Accepted: true}},
		{Type: store.UpdateSignals, SessionID: sess.ID, Payload: store.SignalEvent{Command: "set", Accepted: false}},
	}})

	sub := st.Subscribe()
	defer st.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Start(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-sub:
		case <-time.After(5 * time.Second):
			t.Fatal("update not forwarded")
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Flushes))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.Changes))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Signals.WithLabelValues("set", "accepted")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Signals.WithLabelValues("set", "rejected")))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.Updates.WithLabelValues("signals")))

	count, err := promtest.GatherAndCount(reg, "statesync_store_sessions")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngineStopsOnCollectorFailure(t *testing.T) {
	boom := errors.New("boom")
	eng := New(store.New(), nil, testLogger())
	eng.Register(&scriptedCollector{err: boom})
	eng.Register(&scriptedCollector{})

	done := make(chan error, 1)
	go func() { done <- eng.Start(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}
