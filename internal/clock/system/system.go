// Package system supplies the clocks that stamp frontier entries and access results.
package system

import (
	"sync"
	"time"
)

// Clock reads wall time in UTC.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now implements crawler.Clock.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a crawler.Clock for tests. Time stands still until Advance.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock reading start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements crawler.Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
