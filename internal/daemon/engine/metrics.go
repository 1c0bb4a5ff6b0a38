package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grovetools/statesync/internal/daemon/store"
)

// Metrics are the daemon's Prometheus collectors.
type Metrics struct {
	// Flushes counts change batches published to clients.
	Flushes prometheus.Counter
	// Changes counts individual node changes across all batches.
	Changes prometheus.Counter
	// Signals counts confirmed signal commands.
	// Labels: command (set, increment, ...), result (accepted, rejected)
	Signals *prometheus.CounterVec
	// Updates counts store updates by type.
	Updates *prometheus.CounterVec
	// PushClients is the number of connected push clients.
	PushClients prometheus.Gauge

	factory promauto.Factory
}

// NewMetrics registers the daemon metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Flushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statesync",
			Subsystem: "flush",
			Name:      "batches_total",
			Help:      "Total change batches flushed to clients",
		}),
		Changes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statesync",
			Subsystem: "flush",
			Name:      "changes_total",
			Help:      "Total node changes flushed to clients",
		}),
		Signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Subsystem: "signals",
			Name:      "commands_total",
			Help:      "Total confirmed signal commands by type and result",
		}, []string{"command", "result"}),
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Subsystem: "store",
			Name:      "updates_total",
			Help:      "Total store updates by type",
		}, []string{"type"}),
		PushClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "statesync",
			Subsystem: "push",
			Name:      "clients",
			Help:      "Number of connected push clients",
		}),
		factory: factory,
	}
}

// observeSessions exports the live session count of st.
func (m *Metrics) observeSessions(st *store.Store) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "statesync",
		Subsystem: "store",
		Name:      "sessions",
		Help:      "Number of live sessions",
	}, func() float64 {
		return float64(len(st.Sessions()))
	})
}
