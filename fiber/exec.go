// File: fiber/exec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Saved execution context of a fiber. Each context is backed by one
// goroutine that is started on the first switch-in and reused afterwards.
// Control moves strictly back and forth over two unbuffered channels, so at
// any instant either the resumer or the fiber goroutine runs, never both.

package fiber

import (
	"sync"
	"sync/atomic"
)

var stackAllocs atomic.Uint64

// StackAllocations reports how many fiber stacks have been allocated by the
// process. Reset reuses a stack, so it does not change this value.
func StackAllocations() uint64 {
	return stackAllocs.Load()
}

// execContext never refers back to its Fiber: the handle travels through
// resume on each switch-in, so an idle context keeps nothing alive.
type execContext struct {
	size   int
	resume chan *Fiber
	yield  chan State
	start  sync.Once
	closed atomic.Bool
}

func newExecContext(size int) *execContext {
	return &execContext{
		size:   size,
		resume: make(chan *Fiber),
		yield:  make(chan State),
	}
}

// switchIn transfers control to the fiber and blocks until it swaps out,
// returning the state the fiber swapped out with.
func (c *execContext) switchIn(f *Fiber) State {
	c.start.Do(func() {
		stackAllocs.Add(1)
		go c.loop()
	})
	c.resume <- f
	return <-c.yield
}

// switchOut is called on the fiber goroutine; it hands control back to the
// resumer and parks until the next switchIn.
func (c *execContext) switchOut(s State) {
	c.yield <- s
	<-c.resume
}

func (c *execContext) loop() {
	for f := range c.resume {
		c.yield <- f.trampoline()
	}
}

// release ends the backing goroutine. It must only be called while the
// goroutine is parked at the top of loop (fiber INIT, TERM or EXCEPT).
func (c *execContext) release() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.resume)
}
