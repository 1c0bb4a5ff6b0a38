package signals

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Submitter forwards committed commands towards whatever confirms them.
type Submitter interface {
	Submit(commands []Command)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(commands []Command)

func (f SubmitterFunc) Submit(commands []Command) {
	f(commands)
}

type pendingCommand struct {
	cmd     Command
	handler ResultHandler
}

// AsynchronousTree applies commands optimistically to its submitted view and
// to its confirmed view only when Confirm is called. By default every commit
// is echoed back to Confirm through the dispatcher.
//
// Commands are confirmed in the order Confirm receives them; the submitted
// view is always the confirmed view plus the still-pending commands.
type AsynchronousTree struct {
	mu        sync.Mutex
	confirmed *MutableTreeRevision
	submitted *MutableTreeRevision
	pending   []pendingCommand

	dispatcher Dispatcher
	submitter  Submitter
	listeners  *listeners
	logger     *logrus.Entry
}

// NewAsynchronousTree creates a tree whose confirmation work runs on
// dispatcher.
func NewAsynchronousTree(dispatcher Dispatcher, opts ...Option) *AsynchronousTree {
	o := buildOptions(opts)
	t := &AsynchronousTree{
		confirmed:  NewMutableTreeRevision(),
		submitted:  NewMutableTreeRevision(),
		dispatcher: dispatcher,
		submitter:  o.submitter,
		listeners:  newListeners(),
		logger:     o.logger,
	}
	if t.submitter == nil {
		t.submitter = SubmitterFunc(func(commands []Command) {
			t.dispatcher.Dispatch(func() { t.Confirm(commands) })
		})
	}
	return t
}

func (t *AsynchronousTree) Type() Type {
	return Asynchronous
}

func (t *AsynchronousTree) Submitted() *TreeRevision {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitted.Snapshot()
}

func (t *AsynchronousTree) Confirmed() *TreeRevision {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.confirmed.Snapshot()
}

// PendingCount returns the number of commands awaiting confirmation.
func (t *AsynchronousTree) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// CommitSingleCommand applies cmd to the submitted view and hands it to the
// submitter. handler receives the confirmed result.
func (t *AsynchronousTree) CommitSingleCommand(cmd Command, handler ResultHandler) {
	t.mu.Lock()
	result := t.submitted.Apply(cmd)
	t.pending = append(t.pending, pendingCommand{cmd: cmd, handler: handler})
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"command":  cmd.CommandID(),
		"accepted": result.Accepted(),
	}).Debug("Command submitted")

	t.listeners.notifyChanged(changedIDs(result))
	t.submitter.Submit([]Command{cmd})
}

// Confirm applies commands to the confirmed view in order, then rebuilds the
// submitted view from the confirmed one and the remaining pending commands.
// Commands that did not originate from this tree are confirmed as well.
func (t *AsynchronousTree) Confirm(commands []Command) {
	type outcome struct {
		cmd     Command
		result  CommandResult
		handler ResultHandler
	}

	t.mu.Lock()
	outcomes := make([]outcome, 0, len(commands))
	for _, cmd := range commands {
		result := t.confirmed.Apply(cmd)
		o := outcome{cmd: cmd, result: result}
		for i, p := range t.pending {
			if p.cmd.CommandID() == cmd.CommandID() {
				o.handler = p.handler
				t.pending = append(t.pending[:i:i], t.pending[i+1:]...)
				break
			}
		}
		outcomes = append(outcomes, o)
	}

	before := t.submitted.Snapshot()
	t.submitted = t.confirmed.Mutable()
	for _, p := range t.pending {
		t.submitted.Apply(p.cmd)
	}
	changed := diffIDs(before, &t.submitted.TreeRevision)
	t.mu.Unlock()

	for _, o := range outcomes {
		if r, ok := o.result.(Reject); ok {
			t.logger.WithFields(logrus.Fields{
				"command": o.cmd.CommandID(),
				"reason":  r.Reason,
			}).Debug("Command rejected on confirmation")
		}
		if o.handler != nil {
			o.handler(o.result)
		}
		t.listeners.notifyProcessed(o.cmd, o.result)
	}
	t.listeners.notifyChanged(changed)
}

func (t *AsynchronousTree) ObserveNextChange(id ID, observer func()) func() {
	return t.listeners.observe(id, observer)
}

func (t *AsynchronousTree) SubscribeToProcessed(fn ProcessedHandler) func() {
	return t.listeners.subscribe(fn)
}
