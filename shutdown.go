package battleye

import (
	"sync"
)

// shutdownSignal is a one-shot broadcast the Connector uses to tell its
// goroutines (receive loop, run loop, cache warmup) to exit. Trigger may
// be called any number of times from any goroutine; only the first call
// closes the channel.
type shutdownSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newShutdownSignal() *shutdownSignal {
	return &shutdownSignal{ch: make(chan struct{})}
}

// C returns the channel that is closed once Trigger has been called.
func (s *shutdownSignal) C() <-chan struct{} {
	return s.ch
}

// Trigger closes the signal. Idempotent.
func (s *shutdownSignal) Trigger() {
	s.once.Do(func() { close(s.ch) })
}

// Triggered reports whether Trigger has been called.
func (s *shutdownSignal) Triggered() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
