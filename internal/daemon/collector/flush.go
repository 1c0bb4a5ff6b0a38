package collector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/logging"
)

// FlushCollector periodically flushes every session and publishes the
// encoded change batches.
type FlushCollector struct {
	interval time.Duration
	logger   *logrus.Entry
}

// NewFlushCollector creates a FlushCollector. A non-positive interval
// defaults to 50ms.
func NewFlushCollector(interval time.Duration) *FlushCollector {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &FlushCollector{
		interval: interval,
		logger:   logging.NewLogger("collector.flush"),
	}
}

// Name returns the collector's name.
func (c *FlushCollector) Name() string { return "flush" }

// Run flushes sessions until ctx is canceled.
func (c *FlushCollector) Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.FlushAll(ctx, st, updates); err != nil {
				return err
			}
		}
	}
}

// FlushAll flushes every session once.
func (c *FlushCollector) FlushAll(ctx context.Context, st *store.Store, updates chan<- store.Update) error {
	for _, sess := range st.Sessions() {
		msgs, err := sess.Flush()
		if err != nil {
			c.logger.WithError(err).WithField("session", sess.ID).Error("Failed to encode changes")
		}
		for _, msg := range msgs {
			select {
			case updates <- store.Update{
				Type:      store.UpdateChanges,
				Source:    c.Name(),
				SessionID: sess.ID,
				Payload:   msg,
			}:
			case <-ctx.Done():
				return nil
			}
		}
	}
	return nil
}
