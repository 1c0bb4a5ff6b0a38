package collector

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/logging"
	"github.com/grovetools/statesync/pkg/signals"
)

// SignalCollector publishes every confirmed signal command of every session.
type SignalCollector struct {
	logger *logrus.Entry
}

// NewSignalCollector creates a SignalCollector.
func NewSignalCollector() *SignalCollector {
	return &SignalCollector{logger: logging.NewLogger("collector.signals")}
}

// Name returns the collector's name.
func (c *SignalCollector) Name() string { return "signals" }

// Run follows session creation and removal through the store and keeps a
// processed-command subscription for each live session.
func (c *SignalCollector) Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error {
	sub := st.Subscribe()
	defer st.Unsubscribe(sub)

	cancels := make(map[string]func())
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	resync := func() {
		live := make(map[string]struct{})
		for _, sess := range st.Sessions() {
			live[sess.ID] = struct{}{}
			if _, ok := cancels[sess.ID]; ok {
				continue
			}
			cancels[sess.ID] = c.follow(ctx, sess, updates)
		}
		for id, cancel := range cancels {
			if _, ok := live[id]; !ok {
				cancel()
				delete(cancels, id)
			}
		}
	}

	resync()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-sub:
			if !ok {
				return nil
			}
			if u.Type == store.UpdateSessions {
				resync()
			}
		}
	}
}

func (c *SignalCollector) follow(ctx context.Context, sess *store.Session, updates chan<- store.Update) func() {
	c.logger.WithField("session", sess.ID).Debug("Following signal tree")
	return sess.Signals().SubscribeToProcessed(func(cmd signals.Command, result signals.CommandResult) {
		event := store.SignalEvent{
			CommandID: cmd.CommandID().String(),
			Command:   signals.CommandType(cmd),
			Target:    cmd.TargetNodeID().String(),
			Accepted:  result.Accepted(),
		}
		if reject, ok := result.(signals.Reject); ok {
			event.Reason = reject.Reason
		}
		select {
		case updates <- store.Update{
			Type:      store.UpdateSignals,
			Source:    c.Name(),
			SessionID: sess.ID,
			Payload:   event,
		}:
		case <-ctx.Done():
		}
	})
}
