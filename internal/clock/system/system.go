// Package system provides clock implementations.
package system

import (
	"sync"
	"time"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// Clock implements ingest.Clock using time.Now in UTC.
type Clock struct{}

var _ ingest.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a manually advanced clock for tests and replays.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a Fixed clock set to at.
func NewFixed(at time.Time) *Fixed {
	return &Fixed{now: at.UTC()}
}

// Now returns the current fixed time.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
