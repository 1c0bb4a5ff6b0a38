// Package reactive schedules invalidation events and flush callbacks for a
// single UI execution context.
//
// A Scheduler is not safe for concurrent use. The owner of the state it
// guards (one session, one tree) serializes access to it.
package reactive

import (
	stderrors "errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/grovetools/statesync/errors"
	"github.com/sirupsen/logrus"
)

// Value is anything whose changes can be observed.
type Value interface {
	AddReactiveListener(listener Listener) Remover
}

// Event describes one invalidation of a Value.
type Event interface {
	Source() Value
}

// Listener receives invalidation events.
type Listener func(Event)

// FlushListener is a one-shot callback run by the next flush.
type FlushListener func()

// Remover unsubscribes a listener. Calling Remove more than once is a no-op.
type Remover interface {
	Remove()
}

type removerFunc struct {
	once sync.Once
	fn   func()
}

func (r *removerFunc) Remove() {
	r.once.Do(r.fn)
}

func newRemover(fn func()) Remover {
	return &removerFunc{fn: fn}
}

// Scheduler owns the flush queue, the event collectors and the computation
// currently being evaluated.
type Scheduler struct {
	logger *logrus.Entry

	flushListeners     []FlushListener
	postFlushListeners []FlushListener
	collectors         []*collectorEntry
	current            *Computation
	flushing           bool
}

type collectorEntry struct {
	listener Listener
	removed  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used to report listener failures.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		s.logger = discard.WithField("component", "reactive")
	}
	return s
}

// AddFlushListener queues a callback for the next flush. Listeners added
// while a flush is running are invoked by that same flush.
func (s *Scheduler) AddFlushListener(listener FlushListener) {
	s.flushListeners = append(s.flushListeners, listener)
}

// AddPostFlushListener queues a callback that runs after every flush
// listener of the current pass has run.
func (s *Scheduler) AddPostFlushListener(listener FlushListener) {
	s.postFlushListeners = append(s.postFlushListeners, listener)
}

// HasPendingFlush reports whether a flush would invoke anything.
func (s *Scheduler) HasPendingFlush() bool {
	return len(s.flushListeners) > 0 || len(s.postFlushListeners) > 0
}

// Flush drains the queue until it is empty. Every queued listener runs
// exactly once, in registration order. A failing listener is logged and
// reported in the returned error but does not stop the others.
//
// Calling Flush from inside a listener is a no-op; the outer flush picks up
// anything queued in the meantime.
func (s *Scheduler) Flush() error {
	if s.flushing {
		return nil
	}
	s.flushing = true
	defer func() { s.flushing = false }()

	var errs []error
	for s.HasPendingFlush() {
		for len(s.flushListeners) > 0 {
			batch := s.flushListeners
			s.flushListeners = nil
			for _, listener := range batch {
				if err := s.invoke("flush listener", listener); err != nil {
					errs = append(errs, err)
				}
			}
		}
		if len(s.postFlushListeners) > 0 {
			batch := s.postFlushListeners
			s.postFlushListeners = nil
			for _, listener := range batch {
				if err := s.invoke("post-flush listener", listener); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return stderrors.Join(errs...)
}

// AddEventCollector subscribes to every event fired by any router bound to
// this scheduler. Each Invalidate call is delivered once to each collector
// subscribed at that moment.
func (s *Scheduler) AddEventCollector(collector Listener) Remover {
	entry := &collectorEntry{listener: collector}
	s.collectors = append(s.collectors, entry)
	return newRemover(func() {
		entry.removed = true
		for i, e := range s.collectors {
			if e == entry {
				s.collectors = append(s.collectors[:i:i], s.collectors[i+1:]...)
				return
			}
		}
	})
}

func (s *Scheduler) notifyCollectors(event Event) {
	snapshot := append([]*collectorEntry(nil), s.collectors...)
	for _, entry := range snapshot {
		if entry.removed {
			continue
		}
		listener := entry.listener
		_ = s.invoke("event collector", func() { listener(event) })
	}
}

// invoke runs fn, converting a panic into a logged error.
func (s *Scheduler) invoke(kind string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodeInternal, fmt.Sprintf("%s panicked: %v", kind, r)).
				WithDetail("listener", kind)
			s.logger.WithField("stack", string(debug.Stack())).
				WithError(err).
				Error("Reactive listener failed")
		}
	}()
	fn()
	return nil
}
