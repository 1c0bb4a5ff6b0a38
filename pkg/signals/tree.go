package signals

import (
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// Type is the flavor of a signal tree.
type Type int

const (
	// Synchronous trees confirm every command as it is committed.
	Synchronous Type = iota
	// Asynchronous trees confirm commands later through a Dispatcher.
	Asynchronous
	// Computed marks trees whose state is derived from other trees.
	Computed
)

func (t Type) String() string {
	switch t {
	case Synchronous:
		return "synchronous"
	case Asynchronous:
		return "asynchronous"
	case Computed:
		return "computed"
	default:
		return "unknown"
	}
}

// ResultHandler receives the final result of a committed command.
type ResultHandler func(CommandResult)

// ProcessedHandler receives every command once it has been confirmed,
// together with its result.
type ProcessedHandler func(cmd Command, result CommandResult)

// SignalTree is the common interface of synchronous and asynchronous trees.
// All methods are safe for concurrent use.
type SignalTree interface {
	Type() Type
	// Submitted returns a snapshot of the optimistic view.
	Submitted() *TreeRevision
	// Confirmed returns a snapshot of the authoritative view.
	Confirmed() *TreeRevision
	// CommitSingleCommand applies cmd to the submitted view immediately and
	// schedules its confirmation. handler may be nil.
	CommitSingleCommand(cmd Command, handler ResultHandler)
	// ObserveNextChange calls observer once, after the next change to the
	// submitted state of node id.
	ObserveNextChange(id ID, observer func()) (cancel func())
	// SubscribeToProcessed calls fn for every confirmed command.
	SubscribeToProcessed(fn ProcessedHandler) (cancel func())
}

// Option configures a signal tree.
type Option func(*options)

type options struct {
	logger    *logrus.Entry
	submitter Submitter
}

// WithLogger sets the tree's logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSubmitter replaces the default confirmation path of an asynchronous
// tree. The submitter is responsible for eventually calling Confirm.
func WithSubmitter(s Submitter) Option {
	return func(o *options) {
		o.submitter = s
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "signals")
	}
	return o
}

// listeners holds observers and processed subscribers. Callbacks are always
// invoked without the tree lock held.
type listeners struct {
	mu        sync.Mutex
	nextKey   int
	observers map[ID]map[int]func()
	processed map[int]ProcessedHandler
}

func newListeners() *listeners {
	return &listeners{
		observers: make(map[ID]map[int]func()),
		processed: make(map[int]ProcessedHandler),
	}
}

func (l *listeners) observe(id ID, observer func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.nextKey
	l.nextKey++
	if l.observers[id] == nil {
		l.observers[id] = make(map[int]func())
	}
	l.observers[id][key] = observer
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.observers[id], key)
	}
}

func (l *listeners) subscribe(fn ProcessedHandler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.nextKey
	l.nextKey++
	l.processed[key] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.processed, key)
	}
}

// takeObservers removes and returns the observers of the changed ids.
func (l *listeners) takeObservers(changed []ID) []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []func()
	for _, id := range changed {
		for _, observer := range l.observers[id] {
			out = append(out, observer)
		}
		delete(l.observers, id)
	}
	return out
}

func (l *listeners) processedHandlers() []ProcessedHandler {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ProcessedHandler, 0, len(l.processed))
	for key := 0; key < l.nextKey; key++ {
		if fn, ok := l.processed[key]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (l *listeners) notifyChanged(changed []ID) {
	for _, observer := range l.takeObservers(changed) {
		observer()
	}
}

func (l *listeners) notifyProcessed(cmd Command, result CommandResult) {
	for _, fn := range l.processedHandlers() {
		fn(cmd, result)
	}
}

func changedIDs(result CommandResult) []ID {
	a, ok := result.(Accept)
	if !ok {
		return nil
	}
	ids := make([]ID, 0, len(a.Updates))
	for id := range a.Updates {
		ids = append(ids, id)
	}
	return ids
}

// diffIDs returns the ids whose node differs between two revisions.
func diffIDs(before, after *TreeRevision) []ID {
	var ids []ID
	for id, node := range after.nodes {
		if !reflect.DeepEqual(before.nodes[id], node) {
			ids = append(ids, id)
		}
	}
	for id := range before.nodes {
		if _, ok := after.nodes[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Confirmer accepts commands confirmed outside the tree. Both tree flavors
// implement it.
type Confirmer interface {
	Confirm(commands []Command)
}

var (
	_ SignalTree = (*SynchronousTree)(nil)
	_ SignalTree = (*AsynchronousTree)(nil)
	_ Confirmer  = (*SynchronousTree)(nil)
	_ Confirmer  = (*AsynchronousTree)(nil)
)
