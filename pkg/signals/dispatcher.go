package signals

import "sync"

// Dispatcher runs deferred confirmation work.
type Dispatcher interface {
	Dispatch(task func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(task func())

func (f DispatcherFunc) Dispatch(task func()) {
	f(task)
}

// ImmediateDispatcher runs each task on the calling goroutine.
var ImmediateDispatcher Dispatcher = DispatcherFunc(func(task func()) { task() })

// QueueDispatcher holds tasks until RunPendingTasks is called.
type QueueDispatcher struct {
	mu    sync.Mutex
	tasks []func()
}

// NewQueueDispatcher creates an empty queue.
func NewQueueDispatcher() *QueueDispatcher {
	return &QueueDispatcher{}
}

func (q *QueueDispatcher) Dispatch(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// Pending returns the number of queued tasks.
func (q *QueueDispatcher) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// RunPendingTasks runs queued tasks in order until the queue is empty,
// including tasks queued by the tasks themselves. It returns the number of
// tasks run.
func (q *QueueDispatcher) RunPendingTasks() int {
	count := 0
	for {
		q.mu.Lock()
		tasks := q.tasks
		q.tasks = nil
		q.mu.Unlock()

		if len(tasks) == 0 {
			return count
		}
		for _, task := range tasks {
			task()
			count++
		}
	}
}

// GoroutineDispatcher runs tasks in order on a single worker goroutine.
// The queue is unbounded, so Dispatch never blocks, including from a task
// running on the worker.
type GoroutineDispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewGoroutineDispatcher starts the worker. buffer is the initial queue
// capacity.
func NewGoroutineDispatcher(buffer int) *GoroutineDispatcher {
	d := &GoroutineDispatcher{
		queue: make([]func(), 0, buffer),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *GoroutineDispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			task, ok, closed := d.next()
			if !ok {
				if closed {
					return
				}
				break
			}
			task()
		}
	}
}

func (d *GoroutineDispatcher) next() (task func(), ok, closed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, false, d.closed
	}
	task = d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return task, true, d.closed
}

func (d *GoroutineDispatcher) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Dispatch queues task. Tasks dispatched after Close are dropped.
func (d *GoroutineDispatcher) Dispatch(task func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, task)
	d.mu.Unlock()
	d.notify()
}

// Close stops accepting tasks and waits for queued ones to finish. It must
// not be called from a dispatched task.
func (d *GoroutineDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.notify()
	<-d.done
}
