package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	// After delivers the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// After waits on a runtime timer.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mock is a Clock under test control. It is safe for concurrent use, so a
// test can move time forward while auctions are being bought on other
// goroutines. Channels from After fire when Set or Advance reach their
// deadline.
type Mock struct {
	mu      sync.RWMutex
	t       time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewMock returns a Mock frozen at t.
func NewMock(t time.Time) *Mock { return &Mock{t: t} }

// Now returns the current mock time.
func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t
}

// After returns a channel that fires once the mock reaches now+d. A
// non-positive d fires immediately.
func (m *Mock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.t
		return ch
	}
	m.waiters = append(m.waiters, waiter{at: m.t.Add(d), ch: ch})
	return ch
}

// Waiters reports how many After channels have not fired yet.
func (m *Mock) Waiters() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.waiters)
}

// Set moves the mock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
	m.fire()
}

// Advance moves the mock forward by d and returns the new time.
func (m *Mock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
	m.fire()
	return m.t
}

// fire must be called with mu held.
func (m *Mock) fire() {
	pending := m.waiters[:0]
	for _, w := range m.waiters {
		if m.t.Before(w.at) {
			pending = append(pending, w)
			continue
		}
		w.ch <- m.t
	}
	m.waiters = pending
}
