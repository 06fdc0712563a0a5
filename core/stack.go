package core

import (
	"fmt"
	"sync"
)

// DefaultStackSize is the stack size given to each thread unless configured otherwise.
const DefaultStackSize = 16384

// Stack is a fixed-size memory region owned by exactly one thread for its
// whole lifetime. The thread may use it as scratch storage.
type Stack struct {
	mem      []byte
	released bool
}

// Size returns the size of the region in bytes.
func (s *Stack) Size() int {
	if s == nil {
		return 0
	}
	return len(s.mem)
}

// Bytes exposes the region. It must not be retained after the owning thread exits.
func (s *Stack) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.mem
}

// StackAllocator hands out and takes back thread stacks.
//
// The scheduler calls Allocate from Create (outside the scheduler lock) and
// Release when a thread is destroyed (inside it). Implementations must be
// safe for concurrent use.
type StackAllocator interface {
	Allocate(size int) (*Stack, error)
	Release(stack *Stack)
}

// PooledStackAllocator recycles released stacks of the same size and
// optionally caps how many stacks may be live at once.
type PooledStackAllocator struct {
	mu    sync.Mutex
	limit int
	inUse int
	free  []*Stack
}

// NewPooledStackAllocator creates an allocator that keeps at most limit
// stacks live. A limit of zero or less means unbounded.
func NewPooledStackAllocator(limit int) *PooledStackAllocator {
	return &PooledStackAllocator{limit: limit}
}

// Allocate returns a zeroed stack of the given size.
func (a *PooledStackAllocator) Allocate(size int) (*Stack, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid stack size %d", size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.inUse >= a.limit {
		return nil, fmt.Errorf("%w: %d stacks in use", ErrStackLimit, a.inUse)
	}

	var s *Stack
	for i := len(a.free) - 1; i >= 0; i-- {
		if len(a.free[i].mem) == size {
			s = a.free[i]
			a.free[i] = a.free[len(a.free)-1]
			a.free[len(a.free)-1] = nil
			a.free = a.free[:len(a.free)-1]
			break
		}
	}
	if s == nil {
		s = &Stack{mem: make([]byte, size)}
	} else {
		clear(s.mem)
		s.released = false
	}

	a.inUse++
	return s, nil
}

// Release returns a stack to the pool. Releasing nil or an already released
// stack is a no-op.
func (a *PooledStackAllocator) Release(stack *Stack) {
	if stack == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if stack.released {
		return
	}
	stack.released = true
	a.inUse--
	a.free = append(a.free, stack)
}

// InUse returns the number of stacks currently handed out.
func (a *PooledStackAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Pooled returns the number of released stacks kept for reuse.
func (a *PooledStackAllocator) Pooled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}
