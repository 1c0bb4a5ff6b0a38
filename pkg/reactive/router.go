package reactive

// EventRouter binds one reactive value to its listeners.
type EventRouter struct {
	scheduler *Scheduler
	source    Value
	listeners []*listenerEntry
}

type listenerEntry struct {
	listener Listener
	removed  bool
}

// NewEventRouter creates a router for source. scheduler may be nil, in which
// case events only reach the router's own listeners.
func NewEventRouter(scheduler *Scheduler, source Value) *EventRouter {
	return &EventRouter{
		scheduler: scheduler,
		source:    source,
	}
}

// Source returns the value this router belongs to.
func (r *EventRouter) Source() Value {
	return r.source
}

// AddListener registers listener for every subsequent Invalidate.
func (r *EventRouter) AddListener(listener Listener) Remover {
	entry := &listenerEntry{listener: listener}
	r.listeners = append(r.listeners, entry)
	return newRemover(func() {
		entry.removed = true
		for i, e := range r.listeners {
			if e == entry {
				r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
				return
			}
		}
	})
}

// ListenerCount returns the number of registered listeners.
func (r *EventRouter) ListenerCount() int {
	return len(r.listeners)
}

// Invalidate fires event to the scheduler's collectors and then to this
// router's listeners.
func (r *EventRouter) Invalidate(event Event) {
	if r.scheduler != nil {
		r.scheduler.notifyCollectors(event)
	}
	snapshot := append([]*listenerEntry(nil), r.listeners...)
	for _, entry := range snapshot {
		if entry.removed {
			continue
		}
		listener := entry.listener
		if r.scheduler != nil {
			_ = r.scheduler.invoke("reactive listener", func() { listener(event) })
		} else {
			listener(event)
		}
	}
}

// RegisterRead records a read of the source by the computation currently
// being evaluated, if any.
func (r *EventRouter) RegisterRead() {
	if r.scheduler == nil || r.scheduler.current == nil {
		return
	}
	r.scheduler.current.addDependency(r)
}
