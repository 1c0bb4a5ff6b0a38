// Package engine orchestrates background collectors for the daemon.
package engine

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/grovetools/statesync/internal/daemon/collector"
	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/pkg/codec"
)

// Engine manages and runs all collectors.
type Engine struct {
	store      *store.Store
	collectors []collector.Collector
	metrics    *Metrics
	logger     *logrus.Entry
}

// New creates a new Engine instance. metrics may be nil.
func New(st *store.Store, metrics *Metrics, logger *logrus.Entry) *Engine {
	if metrics != nil {
		metrics.observeSessions(st)
	}
	return &Engine{
		store:   st,
		metrics: metrics,
		logger:  logger,
	}
}

// Register adds a collector to the engine.
func (e *Engine) Register(c collector.Collector) {
	e.collectors = append(e.collectors, c)
}

// Start runs all collectors and blocks until ctx is canceled or a collector
// fails. A failing collector stops the others.
func (e *Engine) Start(ctx context.Context) error {
	updates := make(chan store.Update, 100)
	g, gctx := errgroup.WithContext(ctx)

	// 1. Start Update Consumer
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case u := <-updates:
				e.record(u)
				e.store.ApplyUpdate(u)
			}
		}
	})

	// 2. Start Collectors
	for _, c := range e.collectors {
		col := c
		g.Go(func() error {
			log := e.logger.WithField("collector", col.Name())
			log.Info("Starting collector")
			if err := col.Run(gctx, e.store, updates); err != nil {
				log.WithError(err).Error("Collector failed")
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func (e *Engine) record(u store.Update) {
	if e.metrics == nil {
		return
	}
	e.metrics.Updates.WithLabelValues(string(u.Type)).Inc()
	switch u.Type {
	case store.UpdateChanges:
		if msg, ok := u.Payload.(codec.SyncMessage); ok {
			e.metrics.Flushes.Inc()
			e.metrics.Changes.Add(float64(len(msg.Changes)))
		}
	case store.UpdateSignals:
		if event, ok := u.Payload.(store.SignalEvent); ok {
			result := "accepted"
			if !event.Accepted {
				result = "rejected"
			}
			e.metrics.Signals.WithLabelValues(event.Command, result).Inc()
		}
	}
}

// Store returns the engine's session store.
func (e *Engine) Store() *store.Store {
	return e.store
}
