package testutil

import "sync"

// Fixed base and step for DeterministicClock, in epoch milliseconds.
// The base corresponds to 2023-11-14T22:13:20Z.
const (
	clockBase = int64(1700000000000)
	clockStep = int64(1000)
)

// DeterministicClock hands out reproducible epoch-millisecond timestamps.
//
// Unlike time.Now, the clock starts at a fixed base and advances exactly one
// second per call, so events stamped from it produce byte-identical table
// snapshots across runs. It can be reset for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu sync.Mutex
	n  int64
}

// NewDeterministicClock creates a clock positioned at the fixed base.
//
// The first call to Next() returns 1700000000000; each subsequent call
// advances by one second.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next returns the next timestamp and advances the clock.
//
// Monotonic: successive calls never return decreasing values.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := clockBase + c.n*clockStep
	c.n++
	return ts
}

// Current returns the most recently issued timestamp without advancing.
//
// Returns 0 if Next has not been called yet.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		return 0
	}
	return clockBase + (c.n-1)*clockStep
}

// Reset rewinds the clock to the base.
//
// Used for test reuse. After Reset(), the next call to Next() returns the
// base timestamp again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
