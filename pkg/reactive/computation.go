package reactive

// Computation re-runs a function at flush time whenever a value it read
// during its last run is invalidated.
type Computation struct {
	scheduler    *Scheduler
	fn           func()
	dependencies map[*EventRouter]Remover
	invalidated  bool
	stopped      bool
	runs         int
}

// RunWhenDependenciesChange runs fn immediately and again after each flush
// that follows an invalidation of something fn read.
func (s *Scheduler) RunWhenDependenciesChange(fn func()) *Computation {
	c := &Computation{
		scheduler:    s,
		fn:           fn,
		dependencies: make(map[*EventRouter]Remover),
	}
	c.recompute()
	return c
}

// Runs returns how many times the function has run.
func (c *Computation) Runs() int {
	return c.runs
}

// Stop detaches the computation from its dependencies. A pending recompute
// is dropped.
func (c *Computation) Stop() {
	c.stopped = true
	c.clearDependencies()
}

// Stopped reports whether Stop has been called.
func (c *Computation) Stopped() bool {
	return c.stopped
}

func (c *Computation) recompute() {
	if c.stopped {
		return
	}
	c.clearDependencies()

	previous := c.scheduler.current
	c.scheduler.current = c
	defer func() { c.scheduler.current = previous }()

	c.runs++
	_ = c.scheduler.invoke("computation", c.fn)
}

func (c *Computation) addDependency(router *EventRouter) {
	if c.stopped || c.invalidated {
		return
	}
	if _, ok := c.dependencies[router]; ok {
		return
	}
	c.dependencies[router] = router.AddListener(func(Event) {
		c.invalidate()
	})
}

func (c *Computation) invalidate() {
	if c.invalidated || c.stopped {
		return
	}
	c.invalidated = true
	c.clearDependencies()
	c.scheduler.AddFlushListener(func() {
		c.invalidated = false
		c.recompute()
	})
}

func (c *Computation) clearDependencies() {
	for router, remover := range c.dependencies {
		remover.Remove()
		delete(c.dependencies, router)
	}
}
