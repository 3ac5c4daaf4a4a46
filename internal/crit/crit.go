// Package crit provides the exclusive-section capability shared by every
// trace producer, the drain step and filter writers.
//
// A Section must be bounded, must never park the caller, and must be safe to
// enter from any execution context. Nesting is the caller's concern: code that
// already holds a section uses the in-section variants of the trace API.
package crit

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Section is entered and exited once per critical region. Implementations
// are not reentrant: a context that enters twice without exiting waits on
// itself. Code that already holds the section uses trace.BeginInSection.
type Section interface {
	Enter()
	Exit()
}

// Spin is a test-and-set spin lock. The zero value is unlocked. A second
// Enter from the holder spins until some other context calls Exit.
type Spin struct {
	held    atomic.Bool
	entries atomic.Uint64
	spins   atomic.Uint64
}

func NewSpin() *Spin { return &Spin{} }

func (s *Spin) Enter() {
	for !s.held.CompareAndSwap(false, true) {
		s.spins.Add(1)
		runtime.Gosched()
	}
	s.entries.Add(1)
}

func (s *Spin) Exit() { s.held.Store(false) }

// Held reports whether some context is inside the section.
func (s *Spin) Held() bool { return s.held.Load() }

// Contention returns the number of entries and failed acquire attempts.
func (s *Spin) Contention() (entries, spins uint64) {
	return s.entries.Load(), s.spins.Load()
}

// Locker adapts a sync.Locker. Only suitable where blocking is acceptable,
// such as host-side simulations.
type Locker struct{ L sync.Locker }

func (l Locker) Enter() { l.L.Lock() }
func (l Locker) Exit()  { l.L.Unlock() }

// None performs no exclusion. Valid only when a single context touches the
// channel.
type None struct{}

func (None) Enter() {}
func (None) Exit()  {}
