package core

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler multiplexes logical threads onto a single thread of execution.
//
// Threads are switched only when the running thread calls Yield or Exit.
// The ready queue and the active slot are guarded by mu, which is always
// released before control is transferred to another thread.
type Scheduler struct {
	mu     sync.Mutex
	queue  ReadyQueue
	active *Thread

	started  bool
	closed   bool
	detached bool // Run owns termination; Terminate is not called

	name         string
	stackSize    int
	stacks       StackAllocator
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler
	terminate    func(code int)
	history      *dispatchHistory

	done chan struct{}

	created        atomic.Int64
	dispatched     atomic.Int64
	yields         atomic.Int64
	yieldsRejected atomic.Int64
	exited         atomic.Int64
	panicked       atomic.Int64
	allocFailures  atomic.Int64
}

// NewScheduler initializes an empty scheduler. It must be called before
// any other operation; a nil config selects DefaultSchedulerConfig.
func NewScheduler(config *SchedulerConfig) (*Scheduler, error) {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.StackSize <= 0 {
		return nil, fmt.Errorf("%w: stack size must be positive, got %d", ErrInvalidConfig, config.StackSize)
	}
	if config.MaxThreads < 0 {
		return nil, fmt.Errorf("%w: max threads must not be negative, got %d", ErrInvalidConfig, config.MaxThreads)
	}

	queue, err := NewReadyQueue(config.Queue)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		queue:        queue,
		name:         config.Name,
		stackSize:    config.StackSize,
		stacks:       config.StackAllocator,
		logger:       config.Logger,
		metrics:      config.Metrics,
		panicHandler: config.PanicHandler,
		terminate:    config.Terminate,
		history:      newDispatchHistory(config.HistoryCapacity),
		done:         make(chan struct{}),
	}

	// Use defaults if not provided
	if s.name == "" {
		s.name = "uthread"
	}
	if s.stacks == nil {
		s.stacks = NewPooledStackAllocator(config.MaxThreads)
	}
	if s.logger == nil {
		s.logger = &NoOpLogger{}
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.panicHandler == nil {
		s.panicHandler = &DefaultPanicHandler{}
	}
	if s.terminate == nil {
		s.terminate = os.Exit
	}

	s.logger.Debug("scheduler initialized",
		F("scheduler", s.name),
		F("stack_size", s.stackSize),
		F("max_threads", config.MaxThreads),
	)
	return s, nil
}

// Name returns the scheduler label
func (s *Scheduler) Name() string { return s.name }

// StackSize returns the fixed stack size given to every created thread
func (s *Scheduler) StackSize() int { return s.stackSize }

// Create allocates a thread running entry at the given priority and adds it
// to the ready queue. The thread does not run until Yield or Exit selects it.
//
// If the stack cannot be allocated the returned error wraps
// ErrAllocationFailure and nothing is enqueued.
func (s *Scheduler) Create(entry ThreadFunc, priority int) (ThreadID, error) {
	if entry == nil {
		return "", ErrNilEntry
	}

	stack, err := s.stacks.Allocate(s.stackSize)
	if err != nil {
		s.allocFailures.Add(1)
		s.metrics.RecordAllocationFailure("stack")
		s.logger.Warn("thread allocation failed",
			F("scheduler", s.name),
			F("priority", priority),
			F("error", err),
		)
		return "", fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}

	t := &Thread{
		id:       newThreadID(),
		name:     resolveEntryName(entry),
		priority: priority,
		entry:    entry,
		stack:    stack,
	}
	t.ctx = MakeContext(stack, s.threadMain(t))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.destroy(t)
		return "", ErrClosed
	}
	s.queue.Insert(t)
	depth := s.queue.Len()
	s.mu.Unlock()

	s.created.Add(1)
	s.metrics.RecordThreadCreated(priority)
	s.metrics.RecordReadyQueueDepth(depth)
	s.logger.Debug("thread created",
		F("thread", t.id),
		F("entry", t.name),
		F("priority", priority),
		F("ready", depth),
	)
	return t.id, nil
}

// Yield hands the kernel thread to the best ready thread and re-queues the
// caller with the given priority. It returns once some later Yield or Exit
// selects the caller again.
//
// If no other thread is ready, Yield returns ErrNoOtherReadyThread and the
// caller simply keeps running with its priority unchanged.
//
// Only the active thread may call Yield once threads are being dispatched.
// Before that, a goroutine that is not a logical thread may call it while
// threads are ready; it is adopted as a new logical thread first. The
// scheduler cannot tell goroutines apart, so a call from any other
// goroutine while a thread is active is treated as a call by that thread.
func (s *Scheduler) Yield(priority int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.queue.Len() == 0 {
		s.mu.Unlock()
		s.yieldsRejected.Add(1)
		s.metrics.RecordYieldRejected()
		s.logger.Debug("yield without other ready thread", F("priority", priority))
		return ErrNoOtherReadyThread
	}

	caller := s.active
	if caller == nil {
		caller = s.adoptLocked()
	}
	caller.priority = priority

	next, _ := s.queue.SelectHighestPriority()
	s.queue.Insert(caller)
	s.active = next

	rec := DispatchRecord{
		ThreadID: next.id,
		Priority: next.priority,
		Reason:   DispatchYield,
		From:     caller.id,
		At:       time.Now(),
	}
	depth := s.queue.Len()
	s.mu.Unlock()

	// The lock is released; nothing else runs until next is resumed.
	s.yields.Add(1)
	s.recordDispatch(rec, depth)
	if !SwitchContext(caller.ctx, next.ctx) {
		// Destroyed while parked by Close
		if caller.adopted {
			return ErrClosed
		}
		runtime.Goexit()
	}
	return nil
}

// Exit terminates the calling thread and hands the kernel thread to the best
// ready thread. It never returns.
//
// When no thread is ready the scheduler is torn down: Done is closed and,
// unless the scheduler was started with Run, Terminate is called with status
// 0. Called from outside any logical thread before the first dispatch, Exit
// starts the scheduler and permanently abandons the calling goroutine.
// After that only the active thread may call Exit; a call from any other
// goroutine would destroy the active thread in its place.
//
// The exiting thread's deferred calls finish before the next thread is
// resumed.
func (s *Scheduler) Exit() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		runtime.Goexit()
	}

	prev := s.active
	next, ok := s.queue.SelectHighestPriority()
	if !ok {
		// Last live thread
		s.active = nil
		s.closed = true
		detached := s.detached
		s.mu.Unlock()

		if prev != nil {
			s.destroy(prev)
			s.exited.Add(1)
			s.metrics.RecordThreadExit()
		}
		s.leave(prev, func() {
			s.teardown()
			if !detached {
				s.terminate(0)
			}
		})
	}

	reason := DispatchExit
	var from ThreadID
	if prev != nil {
		from = prev.id
		s.destroy(prev)
	} else {
		reason = DispatchStart
		s.started = true
	}
	s.active = next

	rec := DispatchRecord{
		ThreadID: next.id,
		Priority: next.priority,
		Reason:   reason,
		From:     from,
		At:       time.Now(),
	}
	depth := s.queue.Len()
	s.mu.Unlock()

	if prev != nil {
		s.exited.Add(1)
		s.metrics.RecordThreadExit()
		s.logger.Debug("thread exited", F("thread", from))
	}
	s.recordDispatch(rec, depth)
	s.leave(prev, next.ctx.resume)
}

// leave terminates the calling goroutine and runs handoff once nothing of
// it is left running. A logical thread unwinds first and threadMain's
// outermost defer runs handoff; the bootstrap goroutine and adopted threads
// have no such defer and hand off at once.
func (s *Scheduler) leave(prev *Thread, handoff func()) {
	if prev != nil && !prev.adopted {
		prev.handoff = handoff
		runtime.Goexit()
	}
	handoff()
	runtime.Goexit()
}

// Run starts the scheduler without terminating the process: the ready
// threads are dispatched from a helper goroutine and Run blocks until the
// last thread exits or ctx is done.
//
// If ctx ends first, the threads remain parked and Run returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started || s.active != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.detached = true
	s.mu.Unlock()

	go s.Exit()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down a scheduler that will not be run to completion. Ready
// threads are destroyed without running. A logical thread parked inside
// Yield is stopped without returning; an adopted goroutine parked there gets
// ErrClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.active = nil
	s.mu.Unlock()

	s.teardown()
}

// Done is closed once the scheduler has been torn down.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Current returns the active thread, if any.
func (s *Scheduler) Current() (ThreadInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ThreadInfo{}, false
	}
	return s.active.info(), true
}

// ReadyCount returns the number of threads waiting in the ready queue.
func (s *Scheduler) ReadyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	stats := SchedulerStats{
		Name:    s.name,
		Ready:   s.queue.Len(),
		Started: s.started,
		Closed:  s.closed,
	}
	if s.active != nil {
		stats.Active = true
		stats.ActiveID = s.active.id
		stats.ActivePriority = s.active.priority
	}
	s.mu.Unlock()

	stats.Live = stats.Ready
	if stats.Active {
		stats.Live++
	}
	stats.Created = s.created.Load()
	stats.Dispatched = s.dispatched.Load()
	stats.Yields = s.yields.Load()
	stats.YieldsRejected = s.yieldsRejected.Load()
	stats.Exited = s.exited.Load()
	stats.Panicked = s.panicked.Load()
	stats.AllocFailures = s.allocFailures.Load()
	return stats
}

// RecentDispatches returns up to limit dispatch records, newest first.
func (s *Scheduler) RecentDispatches(limit int) []DispatchRecord {
	return s.history.Recent(limit)
}

// LastDispatch returns the most recent dispatch record.
func (s *Scheduler) LastDispatch() (DispatchRecord, bool) {
	return s.history.Last()
}

// threadMain wraps a thread's entry function. A panic is reported and a
// return without Exit is logged; both end in Exit.
func (s *Scheduler) threadMain(t *Thread) func() {
	return func() {
		// Registered first so it runs after every other defer of the thread.
		defer func() {
			if handoff := t.handoff; handoff != nil {
				t.handoff = nil
				handoff()
			}
		}()

		returned := false
		defer func() {
			if rec := recover(); rec != nil {
				s.panicked.Add(1)
				s.metrics.RecordThreadPanic(rec)
				s.logger.Error("thread panicked",
					F("thread", t.id),
					F("entry", t.name),
					F("panic", rec),
				)
				s.panicHandler.HandlePanic(s.snapshot(t), rec, debug.Stack())
				s.Exit()
			}
			if returned {
				s.logger.Warn("thread returned without calling Exit",
					F("thread", t.id),
					F("entry", t.name),
				)
				s.Exit()
			}
		}()

		t.entry()
		returned = true
	}
}

func (s *Scheduler) snapshot(t *Thread) ThreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.info()
}

// adoptLocked turns the calling goroutine into a logical thread.
func (s *Scheduler) adoptLocked() *Thread {
	t := &Thread{
		id:      newThreadID(),
		name:    "adopted",
		ctx:     CaptureContext(),
		adopted: true,
	}
	s.started = true
	s.logger.Debug("adopted calling goroutine", F("thread", t.id))
	return t
}

// destroy releases a thread's stack and context together.
func (s *Scheduler) destroy(t *Thread) {
	if t.stack != nil {
		s.stacks.Release(t.stack)
		t.stack = nil
	}
	if t.ctx != nil {
		t.ctx.Release()
		t.ctx = nil
	}
	t.entry = nil
}

func (s *Scheduler) teardown() {
	s.mu.Lock()
	remaining := s.queue.Drain()
	s.mu.Unlock()

	for _, t := range remaining {
		s.destroy(t)
	}
	s.metrics.RecordReadyQueueDepth(0)
	s.logger.Debug("scheduler terminated",
		F("scheduler", s.name),
		F("created", s.created.Load()),
		F("exited", s.exited.Load()),
		F("discarded", len(remaining)),
	)
	close(s.done)
}

func (s *Scheduler) recordDispatch(rec DispatchRecord, depth int) {
	s.dispatched.Add(1)
	s.history.Add(rec)
	s.metrics.RecordDispatch(rec.Reason, rec.Priority)
	s.metrics.RecordReadyQueueDepth(depth)
	s.logger.Debug("thread dispatched",
		F("thread", rec.ThreadID),
		F("priority", rec.Priority),
		F("reason", rec.Reason),
		F("from", rec.From),
		F("ready", depth),
	)
}
