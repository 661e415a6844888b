// Package lifetime provides the reference counting and timer/refcount
// interlock primitives shared by peers and key slots.
package lifetime

import (
	"sync/atomic"

	"github.com/irctrakz/ovpntun/pkg/logging"
)

// Count is an atomic reference count. Once it reaches zero the object is
// terminal: Hold fails and the on-zero release callback has been invoked
// exactly once.
type Count struct {
	n atomic.Int32
}

// Init sets the initial reference count. Called once at construction.
func (c *Count) Init(n int32) {
	c.n.Store(n)
}

// Hold takes a reference unless the count has already dropped to zero.
func (c *Count) Hold() bool {
	for {
		n := c.n.Load()
		if n <= 0 {
			return false
		}
		if c.n.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Put drops a reference. When the count reaches zero, onZero is invoked.
// Dropping below zero is a programming error; it is reported and the
// release callback is not run again.
func (c *Count) Put(onZero func()) {
	n := c.n.Add(-1)
	switch {
	case n == 0:
		if onZero != nil {
			onZero()
		}
	case n < 0:
		logging.Errorf("lifetime: refcount underflow (%d)", n)
	}
}

// Value returns the current count. Intended for invariant checks and tests.
func (c *Count) Value() int32 {
	return c.n.Load()
}
