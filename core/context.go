package core

import (
	"runtime"
	"sync/atomic"
)

// Context is the saved execution state of one logical thread.
//
// Every Context is backed by exactly one goroutine. A Context built by
// MakeContext owns a goroutine that is spawned the first time the Context
// is resumed; a Context built by CaptureContext stands for the goroutine
// that captured it. Whichever goroutine is not currently resumed sits
// parked on its wake channel, so at most one of them executes at a time.
type Context struct {
	wake     chan struct{}
	dead     chan struct{} // Closed by Release
	entry    func()
	stack    *Stack
	started  atomic.Bool
	released atomic.Bool
}

// MakeContext binds a fresh context to stack and entry. The entry does not
// run until the context is first resumed by SwitchContext or JumpContext.
func MakeContext(stack *Stack, entry func()) *Context {
	return &Context{
		wake:  make(chan struct{}, 1),
		dead:  make(chan struct{}),
		entry: entry,
		stack: stack,
	}
}

// CaptureContext returns a context for the calling goroutine. A later
// SwitchContext that names it as the save target parks the caller; any
// switch that resumes it wakes the caller up again.
func CaptureContext() *Context {
	c := &Context{
		wake: make(chan struct{}, 1),
		dead: make(chan struct{}),
	}
	c.started.Store(true)
	return c
}

// SwitchContext resumes target and parks the caller until some later switch
// or jump resumes save. It returns false if save is released while parked;
// the caller must then stop without touching scheduler state.
func SwitchContext(save, resume *Context) bool {
	resume.resume()
	select {
	case <-save.wake:
		return true
	case <-save.dead:
		return false
	}
}

// JumpContext resumes target and terminates the calling goroutine. The
// caller's state is never saved. Its deferred calls run after target has
// been resumed; a caller with defers of its own should unwind first and
// resume target from its outermost defer instead.
func JumpContext(target *Context) {
	target.resume()
	runtime.Goexit()
}

// Stack returns the stack the context was made with, or nil for a captured
// context.
func (c *Context) Stack() *Stack {
	return c.stack
}

// Started reports whether the context has ever been resumed (or captured).
func (c *Context) Started() bool {
	return c.started.Load()
}

// Release drops the references held by a context that will never run again.
// A goroutine parked on it in SwitchContext is woken and told to stop.
// Repeated calls are no-ops.
func (c *Context) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.entry = nil
	c.stack = nil
	close(c.dead)
}

// Released reports whether Release has been called.
func (c *Context) Released() bool {
	return c.released.Load()
}

func (c *Context) resume() {
	if c.started.CompareAndSwap(false, true) {
		go c.entry()
		return
	}
	c.wake <- struct{}{}
}
