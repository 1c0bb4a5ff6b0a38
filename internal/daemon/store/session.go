package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/statesync/config"
	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/logging"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/reactive"
	"github.com/grovetools/statesync/pkg/signals"
	"github.com/grovetools/statesync/pkg/signals/journal"
	"github.com/grovetools/statesync/pkg/statetree"
	"github.com/grovetools/statesync/pkg/template"
)

// SessionOptions configures a new session.
type SessionOptions struct {
	// ID reuses a previous session id, for example one found in the
	// journal. A new UUID is generated when empty.
	ID         string
	Name       string
	SignalMode string
	Journal    *journal.Journal
	Logger     *logrus.Entry
}

// Session owns one state tree, the scheduler that flushes it, and a signal
// tree. The state tree is only touched with the session lock held.
type Session struct {
	ID        string
	Name      string
	CreatedAt time.Time

	mu        sync.Mutex
	tree      *statetree.Tree
	scheduler *reactive.Scheduler
	pending   []statetree.Change
	sealed    []codec.SyncMessage
	syncID    uint64

	signals    signals.SignalTree
	dispatcher *signals.GoroutineDispatcher
	detach     func()
	closeOnce  sync.Once
	logger     *logrus.Entry
}

func newSession(opts SessionOptions) (*Session, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid session id").
			WithDetail("id", id)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger("store")
	}
	logger = logger.WithField("session", id)

	s := &Session{
		ID:        id,
		Name:      opts.Name,
		CreatedAt: time.Now(),
		scheduler: reactive.NewScheduler(reactive.WithLogger(logger)),
		logger:    logger,
	}
	s.tree = statetree.NewTree(statetree.WithScheduler(s.scheduler), statetree.WithLogger(logger))
	s.tree.OnChanges(func(changes []statetree.Change) {
		s.pending = append(s.pending, changes...)
	})

	var confirmer signals.Confirmer
	switch opts.SignalMode {
	case config.SignalModeAsync:
		s.dispatcher = signals.NewGoroutineDispatcher(64)
		async := signals.NewAsynchronousTree(s.dispatcher, signals.WithLogger(logger))
		s.signals, confirmer = async, async
	default:
		st := signals.NewSynchronousTree(signals.WithLogger(logger))
		s.signals, confirmer = st, st
	}

	if opts.Journal != nil {
		if _, err := opts.Journal.Restore(id, confirmer); err != nil {
			s.Close()
			return nil, err
		}
		s.detach = opts.Journal.Attach(id, s.signals)
	}
	return s, nil
}

// Update runs fn against the state tree. If fn fails, every change it made
// is rolled back; changes made before the call are kept for the next flush.
func (s *Session) Update(fn func(tree *statetree.Tree) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collect()
	if err := fn(s.tree); err != nil {
		if rbErr := s.tree.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Error("Update rollback incomplete")
		}
		return err
	}
	return nil
}

// View runs fn with the session lock held and must not modify the tree.
func (s *Session) View(fn func(tree *statetree.Tree)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.tree)
}

// Flush runs the scheduler and returns every sync message produced since
// the previous flush, oldest first. It returns nil when nothing changed.
func (s *Session) Flush() ([]codec.SyncMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.scheduler.Flush(); err != nil {
		s.logger.WithError(err).Warn("Flush listener failed")
	}
	s.collect()
	err := s.seal()
	msgs := s.sealed
	s.sealed = nil
	return msgs, err
}

// collect moves pending tree changes into the session buffer, which ends
// the tree's rollback window.
func (s *Session) collect() {
	if s.tree.HasChanges() {
		s.pending = append(s.pending, s.tree.Changes()...)
	}
}

// seal encodes the buffered changes as the next sync message. Changes that
// fail to encode are dropped so later batches still go out.
func (s *Session) seal() error {
	if len(s.pending) == 0 {
		return nil
	}
	changes := s.pending
	s.pending = nil
	msgs, err := codec.EncodeChanges(changes)
	if err != nil {
		return err
	}
	s.syncID++
	s.sealed = append(s.sealed, codec.SyncMessage{SyncID: s.syncID, Changes: msgs})
	return nil
}

// Snapshot copies the current tree together with the sync id it reflects.
// Unflushed changes are sealed first, so a client holding the snapshot only
// needs messages with a greater sync id.
func (s *Session) Snapshot() (*statetree.NodeSnapshot, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collect()
	if err := s.seal(); err != nil {
		s.logger.WithError(err).Error("Failed to encode changes")
	}
	return statetree.Snapshot(s.tree.Root()), s.syncID
}

// Render parses src as a template and renders it against the root node.
func (s *Session) Render(src string) (string, error) {
	tmpl, err := template.Parse(src)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return template.GetElement(tmpl, s.tree.Root()).String(), nil
}

// Signals returns the session's signal tree.
func (s *Session) Signals() signals.SignalTree {
	return s.signals
}

// CommitSignal commits cmd and waits for its confirmed result.
func (s *Session) CommitSignal(ctx context.Context, cmd signals.Command) (signals.CommandResult, error) {
	done := make(chan signals.CommandResult, 1)
	s.signals.CommitSingleCommand(cmd, func(result signals.CommandResult) {
		done <- result
	})
	select {
	case result := <-done:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Info summarizes the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	nodes, syncID := s.tree.Len(), s.syncID
	s.mu.Unlock()

	info := SessionInfo{
		ID:         s.ID,
		Name:       s.Name,
		CreatedAt:  s.CreatedAt,
		Nodes:      nodes,
		SyncID:     syncID,
		SignalMode: config.SignalModeSync,
	}
	if async, ok := s.signals.(*signals.AsynchronousTree); ok {
		info.SignalMode = config.SignalModeAsync
		info.PendingSignals = async.PendingCount()
	}
	return info
}

// Close detaches the journal and stops the confirmation worker.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		if s.dispatcher != nil {
			s.dispatcher.Close()
		}
	})
}
