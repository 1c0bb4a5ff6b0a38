package daemon

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/signals"
	"github.com/grovetools/statesync/pkg/signals/journal"
)

// LocalClient implements Client against the signal journal when the daemon
// is not running. Journaled signal trees can be listed, read, changed and
// dropped; state trees live only in the daemon's memory, so everything else
// fails with DAEMON_NOT_RUNNING.
type LocalClient struct {
	journalPath string
	logger      *logrus.Entry
}

// NewLocalClient creates a LocalClient over the journal at journalPath.
func NewLocalClient(journalPath string) *LocalClient {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return &LocalClient{journalPath: journalPath, logger: logrus.NewEntry(logger)}
}

// withStore opens the journal, restores its sessions and runs fn. The journal
// is closed afterwards so a starting daemon can take the lock.
func (c *LocalClient) withStore(fn func(st *store.Store) error) error {
	j, err := journal.Open(c.journalPath, c.logger)
	if err != nil {
		return err
	}
	defer j.Close()

	st := store.New(store.WithJournal(j), store.WithLogger(c.logger))
	defer st.Close()
	if _, err := st.RestoreSessions(); err != nil {
		return err
	}
	return fn(st)
}

// ListSessions returns the journaled sessions.
func (c *LocalClient) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := c.withStore(func(st *store.Store) error {
		for _, info := range st.Infos() {
			out = append(out, SessionInfo(info))
		}
		return nil
	})
	return out, err
}

// CreateSession needs the daemon.
func (c *LocalClient) CreateSession(ctx context.Context, id, name string) (*SessionInfo, error) {
	return nil, errors.DaemonNotRunning("create session")
}

// CloseSession drops a journaled session. Closing without drop is a no-op
// since nothing is running.
func (c *LocalClient) CloseSession(ctx context.Context, id string, drop bool) error {
	return c.withStore(func(st *store.Store) error {
		return st.CloseSession(id, drop)
	})
}

// GetTree needs the daemon.
func (c *LocalClient) GetTree(ctx context.Context, id string) (*TreeSnapshot, error) {
	return nil, errors.DaemonNotRunning("tree snapshot")
}

// Apply needs the daemon.
func (c *LocalClient) Apply(ctx context.Context, id string, ops []codec.Operation) ([]int, error) {
	return nil, errors.DaemonNotRunning("rpc")
}

// Render needs the daemon.
func (c *LocalClient) Render(ctx context.Context, id, template string) (string, error) {
	return "", errors.DaemonNotRunning("render")
}

// GetSignals reads a journaled signal tree.
func (c *LocalClient) GetSignals(ctx context.Context, id string) (*SignalState, error) {
	var state *SignalState
	err := c.withStore(func(st *store.Store) error {
		sess, err := st.Session(id)
		if err != nil {
			return err
		}
		state = signalState(sess)
		return nil
	})
	return state, err
}

// CommitSignal applies cmd to a journaled signal tree. Accepted commands
// are appended to the journal.
func (c *LocalClient) CommitSignal(ctx context.Context, id string, cmd signals.Command) (*SignalResult, error) {
	var result *SignalResult
	err := c.withStore(func(st *store.Store) error {
		sess, err := st.Session(id)
		if err != nil {
			return err
		}
		res, err := sess.CommitSignal(ctx, cmd)
		if err != nil {
			return err
		}
		result = &SignalResult{ID: cmd.CommandID().String(), Accepted: res.Accepted()}
		if reject, ok := res.(signals.Reject); ok {
			result.Reason = reject.Reason
		}
		return nil
	})
	return result, err
}

func signalState(sess *store.Session) *SignalState {
	confirmed := sess.Signals().Confirmed()
	return &SignalState{
		Value:     signals.RootValue(confirmed),
		Submitted: signals.RootValue(sess.Signals().Submitted()),
		Nodes:     confirmed.Len(),
		Pending:   sess.Info().PendingSignals,
	}
}

// GetConfig needs the daemon.
func (c *LocalClient) GetConfig(ctx context.Context) (*RunningConfig, error) {
	return nil, errors.DaemonNotRunning("config")
}

// StreamState needs the daemon.
func (c *LocalClient) StreamState(ctx context.Context, sessionID string) (<-chan StateUpdate, error) {
	return nil, errors.DaemonNotRunning("stream")
}

// IsRunning returns false since this is the local fallback client.
func (c *LocalClient) IsRunning() bool {
	return false
}

// Close is a no-op for LocalClient.
func (c *LocalClient) Close() error {
	return nil
}

// Ensure LocalClient implements Client interface.
var _ Client = (*LocalClient)(nil)
