package store

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/statesync/config"
	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/logging"
	"github.com/grovetools/statesync/pkg/signals/journal"
)

// Store is the in-memory session registry for the daemon.
// It is thread-safe and supports pub/sub for real-time updates.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	subscribers map[chan Update]struct{}

	signalMode string
	journal    *journal.Journal
	logger     *logrus.Entry
}

// Option configures a Store.
type Option func(*Store)

// WithSignalMode selects the signal tree flavor for new sessions.
func WithSignalMode(mode string) Option {
	return func(s *Store) {
		s.signalMode = mode
	}
}

// WithJournal persists accepted signal commands of every session.
func WithJournal(j *journal.Journal) Option {
	return func(s *Store) {
		s.journal = j
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Store instance.
func New(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*Session),
		subscribers: make(map[chan Update]struct{}),
		signalMode:  config.SignalModeSync,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewLogger("store")
	}
	return s
}

// CreateSession registers a new session. An empty id generates one.
func (s *Store) CreateSession(id, name string) (*Session, error) {
	s.mu.RLock()
	_, exists := s.sessions[id]
	s.mu.RUnlock()
	if exists {
		return nil, errors.New(errors.ErrCodeInvalidInput, "session already exists").
			WithDetail("id", id)
	}

	sess, err := newSession(SessionOptions{
		ID:         id,
		Name:       name,
		SignalMode: s.signalMode,
		Journal:    s.journal,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.sessions[sess.ID]; exists {
		s.mu.Unlock()
		sess.Close()
		return nil, errors.New(errors.ErrCodeInvalidInput, "session already exists").
			WithDetail("id", sess.ID)
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.WithField("session", sess.ID).Info("Session created")
	s.broadcastSessions("store")
	return sess, nil
}

// RestoreSessions recreates a session for every tree found in the journal.
func (s *Store) RestoreSessions() (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	ids, err := s.journal.Trees()
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, id := range ids {
		if _, err := s.Session(id); err == nil {
			continue
		}
		if _, err := s.CreateSession(id, ""); err != nil {
			s.logger.WithError(err).WithField("session", id).Warn("Skipping journaled session")
			continue
		}
		restored++
	}
	return restored, nil
}

// Session returns the session registered under id.
func (s *Store) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	return sess, nil
}

// Sessions returns all sessions, oldest first.
func (s *Store) Sessions() []*Session {
	s.mu.RLock()
	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Infos returns the summaries of all sessions, oldest first.
func (s *Store) Infos() []SessionInfo {
	sessions := s.Sessions()
	infos := make([]SessionInfo, len(sessions))
	for i, sess := range sessions {
		infos[i] = sess.Info()
	}
	return infos
}

// CloseSession removes a session. With drop set its journal is deleted as
// well; otherwise the session comes back on the next RestoreSessions.
func (s *Store) CloseSession(id string, drop bool) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return errors.SessionNotFound(id)
	}

	sess.Close()
	if drop && s.journal != nil {
		if err := s.journal.Drop(id); err != nil {
			return err
		}
	}
	s.logger.WithField("session", id).Info("Session closed")
	s.broadcastSessions("store")
	return nil
}

// Close closes every session.
func (s *Store) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// ApplyUpdate notifies subscribers of an update produced by a collector.
func (s *Store) ApplyUpdate(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u.SessionID != "" {
		if _, ok := s.sessions[u.SessionID]; !ok {
			// Session closed after the collector produced the update.
			return
		}
	}
	s.broadcast(u)
}

// Subscribe creates a new subscription channel for updates.
func (s *Store) Subscribe() chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Update, 100) // Buffered
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(ch chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; !ok {
		return
	}
	delete(s.subscribers, ch)
	close(ch)
}

// BroadcastConfigReload sends a config reload notification to all subscribers.
// This is used by the ConfigWatcher to notify clients when config files change.
func (s *Store) BroadcastConfigReload(file string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.broadcast(Update{
		Type:    UpdateConfigReload,
		Source:  "config",
		Payload: file,
	})
}

func (s *Store) broadcastSessions(source string) {
	infos := s.Infos()
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.broadcast(Update{Type: UpdateSessions, Source: source, Payload: infos})
}

// broadcast must be called with s.mu held.
func (s *Store) broadcast(u Update) {
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			// Non-blocking send to prevent slow clients from stalling the daemon
		}
	}
}
