package core

import (
	"sync"
)

// Waiter support:
// - autostart on first Wait
// - block new waiters after last Done
// - safe Done after finish
type Waiter struct {
	wg    sync.WaitGroup
	mu    sync.Mutex
	state int // state < 0 means finish
	err   error
}

func (w *Waiter) Wait() error {
	w.mu.Lock()
	// first wait auto start waiter
	if w.state == 0 {
		w.state++
		w.wg.Add(1)
	}
	w.mu.Unlock()

	w.wg.Wait()

	return w.err
}

func (w *Waiter) Done(err error) {
	w.mu.Lock()

	// safe run Done only when have tasks
	if w.state > 0 {
		w.state--
		// block waiter for any operations after last done
		if w.state == 0 {
			w.state = -1
			w.err = err
		}
		w.wg.Done()
	} else if w.state == 0 {
		w.state = -1
		w.err = err
	}

	w.mu.Unlock()
}
