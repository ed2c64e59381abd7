package core

import (
	"sync"
)

// Runner executes posted tasks one by one on its own goroutine.
// Tasks posted from inside a running task are queued after it, so a task
// may re-post itself without recursion.
type Runner struct {
	name string

	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	stopped bool

	done chan struct{}
}

func NewRunner(name string) *Runner {
	r := &Runner{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Runner) Name() string {
	return r.name
}

// Post queues f. Returns false if the runner was stopped.
func (r *Runner) Post(f func()) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	r.tasks = append(r.tasks, f)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop refuses new tasks. Already queued tasks are still executed,
// after that the goroutine exits and Done is closed.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
	r.mu.Unlock()
}

func (r *Runner) IsRunning() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) run() {
	defer close(r.done)

	for {
		r.mu.Lock()
		if len(r.tasks) == 0 {
			stopped := r.stopped
			r.mu.Unlock()
			if stopped {
				return
			}
			<-r.wake
			continue
		}
		f := r.tasks[0]
		r.tasks[0] = nil
		r.tasks = r.tasks[1:]
		r.mu.Unlock()

		f()
	}
}
