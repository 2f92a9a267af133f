package agent

import (
	"sync"
	"time"
)

// signal is a set-once latch observable by any number of goroutines, the
// in-process equivalent of a multiprocessing event: the shutdown request
// and the terminated flag of a worker are both signals.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// Set raises the signal. Idempotent.
func (s *signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

func (s *signal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the signal is set.
func (s *signal) Done() <-chan struct{} {
	return s.ch
}

// Wait blocks until the signal is set or the timeout elapses; it reports
// whether the signal was set.
func (s *signal) Wait(timeout time.Duration) bool {
	select {
	case <-s.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
