package joy

import "sync/atomic"

// upCell gives one owner at a time access to the value inside.  The kernel
// runs one task at a time, so a second borrow can only come from re-entry
// and that is a bug worth dying for.
type upCell[T any] struct {
	borrowed atomic.Bool
	value    T
}

func newUpCell[T any](v T) *upCell[T] {
	return &upCell[T]{value: v}
}

// exclusive returns the value and the function that gives it back.  The
// borrow must be released before switching tasks.
func (c *upCell[T]) exclusive() (*T, func()) {
	if !c.borrowed.CompareAndSwap(false, true) {
		panic("upCell: already borrowed")
	}
	released := false
	return &c.value, func() {
		if released {
			panic("upCell: released twice")
		}
		released = true
		c.borrowed.Store(false)
	}
}
