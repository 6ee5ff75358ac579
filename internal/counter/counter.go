// Package counter provides a tiny 64-bit counter, adapted from the
// teacher's counter package for spots (the reliable transport's
// per-packet retransmit attempt count) that want a plain local tally
// rather than a labeled, process-wide Prometheus metric.
package counter

import "fmt"

// Counter is a 64-bit counter.
type Counter struct {
	count uint64
}

// New creates a new zeroed Counter.
func New() *Counter {
	return new(Counter)
}

// Reset zeroes the counter.
func (c *Counter) Reset() {
	c.count = 0
}

// Increment adds one to the counter and returns the new value.
func (c *Counter) Increment() uint64 {
	c.count++
	return c.count
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return c.count
}

// String implements fmt.Stringer.
func (c *Counter) String() string {
	return fmt.Sprintf("%d", c.count)
}
