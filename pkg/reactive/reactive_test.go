package reactive

import (
	"testing"

	"github.com/grovetools/statesync/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testValue struct {
	router *EventRouter
	value  int
}

func newTestValue(s *Scheduler) *testValue {
	v := &testValue{}
	v.router = NewEventRouter(s, v)
	return v
}

func (v *testValue) AddReactiveListener(l Listener) Remover { return v.router.AddListener(l) }

func (v *testValue) Get() int {
	v.router.RegisterRead()
	return v.value
}

func (v *testValue) Set(n int) {
	v.value = n
	v.router.Invalidate(testEvent{v})
}

type testEvent struct{ v *testValue }

func (e testEvent) Source() Value { return e.v }

func TestFlushRunsListenersInOrder(t *testing.T) {
	s := NewScheduler()
	var calls []string

	s.AddFlushListener(func() {
		calls = append(calls, "L1")
		s.AddFlushListener(func() { calls = append(calls, "L3") })
	})
	s.AddFlushListener(func() { calls = append(calls, "L2") })

	require.NoError(t, s.Flush())
	assert.Equal(t, []string{"L1", "L2", "L3"}, calls)

	require.NoError(t, s.Flush())
	assert.Equal(t, []string{"L1", "L2", "L3"}, calls, "second flush must not re-invoke listeners")
	assert.False(t, s.HasPendingFlush())
}

func TestPostFlushListenersRunAfterFlushListeners(t *testing.T) {
	s := NewScheduler()
	var calls []string

	s.AddPostFlushListener(func() {
		calls = append(calls, "post")
		s.AddFlushListener(func() { calls = append(calls, "late") })
	})
	s.AddFlushListener(func() {
		calls = append(calls, "a")
		s.AddFlushListener(func() { calls = append(calls, "b") })
	})

	require.NoError(t, s.Flush())
	assert.Equal(t, []string{"a", "b", "post", "late"}, calls)
}

func TestFlushIsolatesPanics(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewScheduler(WithLogger(logger.WithField("component", "reactive")))
	var ran []string

	s.AddFlushListener(func() { ran = append(ran, "first") })
	s.AddFlushListener(func() { panic("boom") })
	s.AddFlushListener(func() { ran = append(ran, "third") })

	err := s.Flush()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInternal))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"first", "third"}, ran)

	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestNestedFlushIsNoop(t *testing.T) {
	s := NewScheduler()
	count := 0
	s.AddFlushListener(func() {
		count++
		s.AddFlushListener(func() { count++ })
		require.NoError(t, s.Flush())
		assert.Equal(t, 1, count)
	})

	require.NoError(t, s.Flush())
	assert.Equal(t, 2, count)
}

func TestEventCollectorsSeeEveryInvalidation(t *testing.T) {
	s := NewScheduler()
	v := newTestValue(s)
	var seen []Event

	remover := s.AddEventCollector(func(e Event) { seen = append(seen, e) })

	v.Set(1)
	v.Set(2)
	require.Len(t, seen, 2, "each invalidate is delivered, not coalesced")
	assert.Same(t, v, seen[0].Source())

	remover.Remove()
	remover.Remove()
	v.Set(3)
	assert.Len(t, seen, 2)
}

func TestRouterListeners(t *testing.T) {
	s := NewScheduler()
	v := newTestValue(s)
	count := 0

	r1 := v.AddReactiveListener(func(Event) { count++ })
	v.AddReactiveListener(func(Event) { count += 10 })
	assert.Equal(t, 2, v.router.ListenerCount())

	v.Set(1)
	assert.Equal(t, 11, count)

	r1.Remove()
	v.Set(2)
	assert.Equal(t, 21, count)
}

func TestRouterWithoutScheduler(t *testing.T) {
	v := newTestValue(nil)
	fired := false
	v.AddReactiveListener(func(Event) { fired = true })

	v.Set(4)
	assert.True(t, fired)
	assert.Equal(t, 4, v.Get())
}

func TestComputationRerunsAfterFlush(t *testing.T) {
	s := NewScheduler()
	a := newTestValue(s)
	b := newTestValue(s)
	var observed []int

	c := s.RunWhenDependenciesChange(func() {
		observed = append(observed, a.Get()+b.Get())
	})
	assert.Equal(t, []int{0}, observed)

	a.Set(1)
	b.Set(2)
	assert.Equal(t, []int{0}, observed, "recompute waits for flush")

	require.NoError(t, s.Flush())
	assert.Equal(t, []int{0, 3}, observed)
	assert.Equal(t, 2, c.Runs())

	require.NoError(t, s.Flush())
	assert.Equal(t, 2, c.Runs())
}

func TestComputationTracksOnlyLastRunDependencies(t *testing.T) {
	s := NewScheduler()
	useA := true
	a := newTestValue(s)
	b := newTestValue(s)

	c := s.RunWhenDependenciesChange(func() {
		if useA {
			a.Get()
		} else {
			b.Get()
		}
	})

	useA = false
	a.Set(1)
	require.NoError(t, s.Flush())
	assert.Equal(t, 2, c.Runs())

	a.Set(2)
	require.NoError(t, s.Flush())
	assert.Equal(t, 2, c.Runs(), "a is no longer a dependency")

	b.Set(1)
	require.NoError(t, s.Flush())
	assert.Equal(t, 3, c.Runs())
}

func TestStoppedComputationDoesNotRun(t *testing.T) {
	s := NewScheduler()
	a := newTestValue(s)
	c := s.RunWhenDependenciesChange(func() { a.Get() })

	a.Set(1)
	c.Stop()
	require.NoError(t, s.Flush())

	assert.True(t, c.Stopped())
	assert.Equal(t, 1, c.Runs())
	assert.Equal(t, 0, a.router.ListenerCount())
}
