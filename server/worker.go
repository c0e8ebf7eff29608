package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStopped is returned by Do after Stop.
var ErrStopped = errors.New("server: workers stopped")

// workRequest represents a unit of work to be executed on a worker goroutine.
type workRequest struct {
	fn   func() error
	done chan error
}

// Workers runs program executions on a fixed set of goroutines, bounding how
// many machines run at once regardless of how many requests arrive.
type Workers struct {
	requests chan workRequest
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorkers starts n worker goroutines (at least one).
func NewWorkers(n int) *Workers {
	w := &Workers{
		requests: make(chan workRequest),
		quit:     make(chan struct{}),
	}
	for range max(n, 1) {
		w.wg.Add(1)
		go w.loop()
	}
	return w
}

// loop processes requests sequentially on one goroutine.
func (w *Workers) loop() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *Workers) execute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("server: execution panicked: %v", r)
		}
	}()
	return fn()
}

// Do waits for a free worker, runs fn on it, and returns its error. fn is
// expected to observe ctx itself once started.
func (w *Workers) Do(ctx context.Context, fn func() error) error {
	req := workRequest{fn: fn, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrStopped
	}
	return <-req.done
}

// Stop shuts down the worker goroutines after their current work.
func (w *Workers) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	w.wg.Wait()
}
