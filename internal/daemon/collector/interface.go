// Package collector provides background workers that drive sessions and
// publish their updates.
package collector

import (
	"context"

	"github.com/grovetools/statesync/internal/daemon/store"
)

// Collector is a background worker that emits updates.
type Collector interface {
	// Name returns the collector's name for logging.
	Name() string

	// Run starts the collector. It should block until context is canceled.
	// It emits updates via the updates channel.
	// It can read from the store (thread-safe) to find the live sessions.
	Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error
}
