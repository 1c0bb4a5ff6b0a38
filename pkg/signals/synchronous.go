package signals

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// SynchronousTree applies and confirms every command in one step. Its
// submitted and confirmed views are the same revision.
type SynchronousTree struct {
	mu        sync.Mutex
	revision  *MutableTreeRevision
	listeners *listeners
	logger    *logrus.Entry
}

// NewSynchronousTree creates a tree with an empty root.
func NewSynchronousTree(opts ...Option) *SynchronousTree {
	o := buildOptions(opts)
	return &SynchronousTree{
		revision:  NewMutableTreeRevision(),
		listeners: newListeners(),
		logger:    o.logger,
	}
}

func (t *SynchronousTree) Type() Type {
	return Synchronous
}

func (t *SynchronousTree) Submitted() *TreeRevision {
	return t.Confirmed()
}

func (t *SynchronousTree) Confirmed() *TreeRevision {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revision.Snapshot()
}

// CommitSingleCommand applies cmd and invokes handler before returning.
func (t *SynchronousTree) CommitSingleCommand(cmd Command, handler ResultHandler) {
	t.mu.Lock()
	result := t.revision.Apply(cmd)
	t.mu.Unlock()

	if r, ok := result.(Reject); ok {
		t.logger.WithFields(logrus.Fields{
			"command": cmd.CommandID(),
			"reason":  r.Reason,
		}).Debug("Command rejected")
	}

	if handler != nil {
		handler(result)
	}
	t.listeners.notifyProcessed(cmd, result)
	t.listeners.notifyChanged(changedIDs(result))
}

func (t *SynchronousTree) ObserveNextChange(id ID, observer func()) func() {
	return t.listeners.observe(id, observer)
}

func (t *SynchronousTree) SubscribeToProcessed(fn ProcessedHandler) func() {
	return t.listeners.subscribe(fn)
}

// Confirm applies commands that were confirmed elsewhere, such as commands
// replayed from a journal.
func (t *SynchronousTree) Confirm(commands []Command) {
	for _, cmd := range commands {
		t.CommitSingleCommand(cmd, nil)
	}
}
