package core

import "github.com/google/uuid"

// ThreadFunc is the entry point of a logical thread. It takes no arguments,
// returns nothing, and should end by calling Exit on its scheduler.
type ThreadFunc func()

// ThreadID identifies a logical thread for logs, metrics and history.
type ThreadID string

func newThreadID() ThreadID {
	return ThreadID(uuid.NewString())
}

// Thread is the control block of one logical thread.
//
// A Thread is owned by exactly one of the ready queue or the scheduler's
// active slot; its fields are only touched with the scheduler lock held.
type Thread struct {
	id       ThreadID
	name     string
	priority int
	entry    ThreadFunc
	stack    *Stack
	ctx      *Context

	// adopted marks a thread made from a captured goroutine; it owns no stack.
	adopted bool

	// handoff is set by Exit and run by threadMain once the thread's
	// goroutine has unwound. Only that goroutine touches it.
	handoff func()
}

// ID returns the thread identifier.
func (t *Thread) ID() ThreadID { return t.id }

// Name returns the resolved name of the entry function.
func (t *Thread) Name() string { return t.name }

// Priority returns the thread's current priority. Lower values run first.
func (t *Thread) Priority() int { return t.priority }

// ThreadInfo is a read-only snapshot of a thread.
type ThreadInfo struct {
	ID        ThreadID
	Name      string
	Priority  int
	StackSize int
	Adopted   bool
}

func (t *Thread) info() ThreadInfo {
	return ThreadInfo{
		ID:        t.id,
		Name:      t.name,
		Priority:  t.priority,
		StackSize: t.stack.Size(),
		Adopted:   t.adopted,
	}
}
