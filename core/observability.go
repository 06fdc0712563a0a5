package core

import "time"

// DispatchReason says which operation handed the kernel thread to a thread.
type DispatchReason string

const (
	// DispatchStart is the first dispatch, issued from outside any thread.
	DispatchStart DispatchReason = "start"
	// DispatchYield is a hand-off from a thread that called Yield.
	DispatchYield DispatchReason = "yield"
	// DispatchExit is a hand-off from a thread that called Exit.
	DispatchExit DispatchReason = "exit"
)

// DispatchRecord captures one promotion of a thread to the active slot.
type DispatchRecord struct {
	Sequence uint64
	ThreadID ThreadID
	Priority int
	Reason   DispatchReason
	From     ThreadID // Empty for DispatchStart
	At       time.Time
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Name           string
	Ready          int
	Active         bool
	ActiveID       ThreadID
	ActivePriority int
	Live           int
	Created        int64
	Dispatched     int64
	Yields         int64
	YieldsRejected int64
	Exited         int64
	Panicked       int64
	AllocFailures  int64
	Started        bool
	Closed         bool
}
