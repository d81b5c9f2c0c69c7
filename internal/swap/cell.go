// Package swap provides the hand-off point between the control path and
// the render path. A Cell holds at most one pending value; publishing
// replaces whatever is there (latest wins), and the consumer takes it
// without ever blocking.
package swap

import "sync/atomic"

// Cell is a single-writer/single-reader exchange slot.
type Cell[T any] struct {
	p atomic.Pointer[T]
}

// Publish replaces the pending value. A value that was never consumed is
// discarded.
func (c *Cell[T]) Publish(v *T) {
	c.p.Store(v)
}

// Take removes and returns the pending value, or nil when nothing is
// pending. Safe to call on every tick of the render loop.
func (c *Cell[T]) Take() *T {
	return c.p.Swap(nil)
}
