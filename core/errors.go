package core

import "errors"

var (
	// ErrAllocationFailure is returned by Create when the thread's stack or
	// control block cannot be obtained. Nothing is enqueued when it occurs.
	ErrAllocationFailure = errors.New("uthread: allocation failure")

	// ErrNoOtherReadyThread is returned by Yield when no other thread is
	// ready. The caller keeps running.
	ErrNoOtherReadyThread = errors.New("uthread: no other ready thread")

	// ErrNilEntry is returned by Create when the entry function is nil.
	ErrNilEntry = errors.New("uthread: nil entry function")

	// ErrClosed is returned once the last thread has exited and the scheduler
	// has been torn down.
	ErrClosed = errors.New("uthread: scheduler closed")

	// ErrAlreadyStarted is returned by Run when threads are already being
	// dispatched.
	ErrAlreadyStarted = errors.New("uthread: scheduler already started")

	// ErrInvalidConfig is returned by NewScheduler for unusable settings.
	ErrInvalidConfig = errors.New("uthread: invalid config")

	// ErrStackLimit is returned by a bounded StackAllocator when every stack
	// is in use.
	ErrStackLimit = errors.New("uthread: stack limit reached")
)
