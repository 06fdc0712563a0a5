package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, mutate func(cfg *SchedulerConfig)) *Scheduler {
	t.Helper()
	cfg := DefaultSchedulerConfig()
	cfg.Terminate = func(int) {}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewScheduler(cfg)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return s
}

func runToCompletion(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func mustCreate(t *testing.T, s *Scheduler, entry ThreadFunc, priority int) ThreadID {
	t.Helper()
	id, err := s.Create(entry, priority)
	if err != nil {
		t.Fatalf("Create(priority=%d) error = %v", priority, err)
	}
	return id
}

// TestScheduler_ExitDispatchesLowestValueFirst verifies the A(2)/B(5) scenario
// Given: A created with priority 2 and B created with priority 5
// When: The bootstrap exits
// Then: A runs first, then B
func TestScheduler_ExitDispatchesLowestValueFirst(t *testing.T) {
	// Arrange
	s := newTestScheduler(t, nil)
	var order []string

	mustCreate(t, s, func() {
		order = append(order, "B")
		s.Exit()
	}, 5)
	mustCreate(t, s, func() {
		order = append(order, "A")
		s.Exit()
	}, 2)

	// Act
	runToCompletion(t, s)

	// Assert
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("dispatch order = %v, want [A B]", order)
	}
}

// TestScheduler_PriorityOrdering verifies non-decreasing priority with FIFO ties
// Given: Threads created with shuffled priorities, several sharing a value
// When: Each thread exits immediately
// Then: They run sorted by priority, equal priorities in creation order
func TestScheduler_PriorityOrdering(t *testing.T) {
	for _, kind := range []QueueKind{QueueCircular, QueueHeap} {
		t.Run(string(kind), func(t *testing.T) {
			s := newTestScheduler(t, func(cfg *SchedulerConfig) { cfg.Queue = kind })
			var order []string

			priorities := []int{4, 1, 3, 1, 0, 4, 3, 1}
			for i, p := range priorities {
				tag := fmt.Sprintf("%d:%d", p, i)
				mustCreate(t, s, func() {
					order = append(order, tag)
					s.Exit()
				}, p)
			}

			runToCompletion(t, s)

			want := []string{"0:4", "1:1", "1:3", "1:7", "3:2", "3:6", "4:0", "4:5"}
			if len(order) != len(want) {
				t.Fatalf("order = %v, want %v", order, want)
			}
			for i := range want {
				if order[i] != want[i] {
					t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
				}
			}
		})
	}
}

// TestScheduler_YieldRepriority verifies the new priority applies on re-enqueue
// Given: X, Y and Z all at priority 2
// When: X yields with priority 1, then Y yields with priority 2
// Then: X is selected right after Y yields, ahead of Z
func TestScheduler_YieldRepriority(t *testing.T) {
	s := newTestScheduler(t, nil)
	var trace []string

	mustCreate(t, s, func() {
		trace = append(trace, "X-start")
		if err := s.Yield(1); err != nil {
			trace = append(trace, "X-yield-error")
		}
		trace = append(trace, "X-resumed")
		s.Exit()
	}, 2)
	mustCreate(t, s, func() {
		trace = append(trace, "Y-start")
		s.Yield(2)
		trace = append(trace, "Y-resumed")
		s.Exit()
	}, 2)
	mustCreate(t, s, func() {
		trace = append(trace, "Z-start")
		s.Exit()
	}, 2)

	runToCompletion(t, s)

	want := []string{"X-start", "Y-start", "X-resumed", "Z-start", "Y-resumed"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Errorf("trace[%d] = %s, want %s", i, trace[i], want[i])
		}
	}
}

// TestScheduler_LoneYieldIsNoop verifies Yield with no other ready thread
// Given: A single live thread
// When: It yields at several priorities
// Then: Every call returns ErrNoOtherReadyThread and the thread stays active
func TestScheduler_LoneYieldIsNoop(t *testing.T) {
	s := newTestScheduler(t, nil)
	var errs []error
	var before, after ThreadInfo

	mustCreate(t, s, func() {
		before, _ = s.Current()
		for _, p := range []int{-1, 0, 100} {
			errs = append(errs, s.Yield(p))
		}
		after, _ = s.Current()
		s.Exit()
	}, 7)

	runToCompletion(t, s)

	for i, err := range errs {
		if !errors.Is(err, ErrNoOtherReadyThread) {
			t.Errorf("Yield #%d error = %v, want ErrNoOtherReadyThread", i, err)
		}
	}
	if before.ID == "" || before.ID != after.ID {
		t.Errorf("active thread changed from %q to %q", before.ID, after.ID)
	}
	if after.Priority != 7 {
		t.Errorf("priority after rejected yields = %d, want 7", after.Priority)
	}
	if got := s.Stats().YieldsRejected; got != 3 {
		t.Errorf("Stats().YieldsRejected = %d, want 3", got)
	}
}

// TestScheduler_Conservation verifies ready + active equals live threads
// Given: A workload that creates, yields and exits threads
// When: Stats are sampled between operations inside the threads
// Then: Ready plus the active thread always equals created minus exited
func TestScheduler_Conservation(t *testing.T) {
	s := newTestScheduler(t, nil)
	var violations []string

	check := func(step string) {
		st := s.Stats()
		live := st.Ready
		if st.Active {
			live++
		}
		if live != st.Live || int64(live) != st.Created-st.Exited {
			violations = append(violations, fmt.Sprintf("%s: ready=%d active=%v created=%d exited=%d",
				step, st.Ready, st.Active, st.Created, st.Exited))
		}
	}

	var spawn func(depth int) ThreadFunc
	spawn = func(depth int) ThreadFunc {
		return func() {
			check(fmt.Sprintf("start depth %d", depth))
			if depth < 3 {
				s.Create(spawn(depth+1), depth)
				check("after create")
				s.Create(spawn(depth+1), depth+1)
				check("after create")
			}
			s.Yield(depth)
			check("after yield")
			s.Exit()
		}
	}
	mustCreate(t, s, spawn(0), 0)

	runToCompletion(t, s)

	if len(violations) > 0 {
		t.Fatalf("conservation violated:\n%v", violations)
	}
	st := s.Stats()
	if st.Created != 15 || st.Exited != 15 {
		t.Errorf("created=%d exited=%d, want 15/15", st.Created, st.Exited)
	}
	if st.Live != 0 || !st.Closed {
		t.Errorf("final stats = %+v, want no live threads and closed", st)
	}
}

// TestScheduler_TerminateWithStatusZero verifies process termination on last exit
// Given: A scheduler started with Exit from a non-thread goroutine
// When: The last thread exits
// Then: Terminate is called once with status 0
func TestScheduler_TerminateWithStatusZero(t *testing.T) {
	codes := make(chan int, 2)
	s := newTestScheduler(t, func(cfg *SchedulerConfig) {
		cfg.Terminate = func(code int) { codes <- code }
	})

	for i := range 3 {
		mustCreate(t, s, func() { s.Exit() }, i)
	}

	go s.Exit()

	select {
	case code := <-codes:
		if code != 0 {
			t.Fatalf("Terminate code = %d, want 0", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Terminate was not called")
	}

	select {
	case <-s.Done():
	default:
		t.Error("Done() should be closed before Terminate is called")
	}
	select {
	case code := <-codes:
		t.Errorf("Terminate called twice (second code %d)", code)
	case <-time.After(20 * time.Millisecond):
	}
}

// TestScheduler_ExitWithoutThreads verifies termination when nothing was created
func TestScheduler_ExitWithoutThreads(t *testing.T) {
	codes := make(chan int, 1)
	s := newTestScheduler(t, func(cfg *SchedulerConfig) {
		cfg.Terminate = func(code int) { codes <- code }
	})

	go s.Exit()

	select {
	case code := <-codes:
		if code != 0 {
			t.Fatalf("Terminate code = %d, want 0", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Terminate was not called")
	}
}

// TestScheduler_RunDoesNotTerminate verifies Run owns termination
func TestScheduler_RunDoesNotTerminate(t *testing.T) {
	called := false
	s := newTestScheduler(t, func(cfg *SchedulerConfig) {
		cfg.Terminate = func(int) { called = true }
	})
	mustCreate(t, s, func() { s.Exit() }, 0)

	runToCompletion(t, s)

	if called {
		t.Error("Terminate should not be called when started with Run")
	}
}

// TestScheduler_AllocationFailure verifies Create under a stack limit
// Given: A scheduler limited to one live stack with one thread created
// When: A second thread is created
// Then: The error wraps ErrAllocationFailure and nothing is enqueued
func TestScheduler_AllocationFailure(t *testing.T) {
	s := newTestScheduler(t, func(cfg *SchedulerConfig) { cfg.MaxThreads = 1 })
	mustCreate(t, s, func() { s.Exit() }, 0)

	id, err := s.Create(func() { s.Exit() }, 0)

	if !errors.Is(err, ErrAllocationFailure) {
		t.Fatalf("Create error = %v, want ErrAllocationFailure", err)
	}
	if !errors.Is(err, ErrStackLimit) {
		t.Errorf("Create error = %v, want it to wrap ErrStackLimit", err)
	}
	if id != "" {
		t.Errorf("Create returned id %q on failure", id)
	}
	if got := s.ReadyCount(); got != 1 {
		t.Errorf("ReadyCount() = %d, want 1", got)
	}
	if got := s.Stats().AllocFailures; got != 1 {
		t.Errorf("Stats().AllocFailures = %d, want 1", got)
	}

	runToCompletion(t, s)
}

// TestScheduler_ExitReleasesStack verifies stacks are released on every exit
// Given: A two-stack limit with A and B created
// When: A fails to create C, exits, and B then creates C
// Then: B's Create succeeds and no stack is in use at the end
func TestScheduler_ExitReleasesStack(t *testing.T) {
	alloc := NewPooledStackAllocator(2)
	s := newTestScheduler(t, func(cfg *SchedulerConfig) { cfg.StackAllocator = alloc })

	var errA, errB error
	cRan := false

	mustCreate(t, s, func() {
		_, errA = s.Create(func() { s.Exit() }, 0)
		s.Exit()
	}, 0)
	mustCreate(t, s, func() {
		_, errB = s.Create(func() {
			cRan = true
			s.Exit()
		}, 0)
		s.Exit()
	}, 1)

	runToCompletion(t, s)

	if !errors.Is(errA, ErrAllocationFailure) {
		t.Errorf("A's Create error = %v, want ErrAllocationFailure", errA)
	}
	if errB != nil {
		t.Errorf("B's Create error = %v, want nil", errB)
	}
	if !cRan {
		t.Error("C never ran")
	}
	if alloc.InUse() != 0 {
		t.Errorf("InUse() = %d after all threads exited, want 0", alloc.InUse())
	}
}

type recordingPanicHandler struct {
	mu     sync.Mutex
	values []any
	infos  []ThreadInfo
}

func (h *recordingPanicHandler) HandlePanic(thread ThreadInfo, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, panicInfo)
	h.infos = append(h.infos, thread)
}

// TestScheduler_PanicExitsThread verifies a panicking thread is reported and exited
func TestScheduler_PanicExitsThread(t *testing.T) {
	handler := &recordingPanicHandler{}
	s := newTestScheduler(t, func(cfg *SchedulerConfig) { cfg.PanicHandler = handler })
	afterRan := false

	mustCreate(t, s, func() { panic("boom") }, 0)
	mustCreate(t, s, func() {
		afterRan = true
		s.Exit()
	}, 1)

	runToCompletion(t, s)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.values) != 1 || handler.values[0] != "boom" {
		t.Fatalf("panic values = %v, want [boom]", handler.values)
	}
	if handler.infos[0].Priority != 0 || handler.infos[0].StackSize != DefaultStackSize {
		t.Errorf("panic thread info = %+v", handler.infos[0])
	}
	if !afterRan {
		t.Error("next thread did not run after panic")
	}
	if got := s.Stats().Panicked; got != 1 {
		t.Errorf("Stats().Panicked = %d, want 1", got)
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(msg string, fields ...Field) {}
func (l *recordingLogger) Info(msg string, fields ...Field)  {}
func (l *recordingLogger) Warn(msg string, fields ...Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *recordingLogger) Error(msg string, fields ...Field) {}

// TestScheduler_ReturnWithoutExit verifies a returning entry is exited for it
func TestScheduler_ReturnWithoutExit(t *testing.T) {
	logger := &recordingLogger{}
	s := newTestScheduler(t, func(cfg *SchedulerConfig) { cfg.Logger = logger })
	var order []string

	mustCreate(t, s, func() { order = append(order, "returns") }, 0)
	mustCreate(t, s, func() {
		order = append(order, "exits")
		s.Exit()
	}, 1)

	runToCompletion(t, s)

	if len(order) != 2 || order[1] != "exits" {
		t.Fatalf("order = %v, want [returns exits]", order)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v, want exactly one", logger.warns)
	}
}

// TestScheduler_ExitFinishesDefersFirst verifies an exiting thread unwinds before the next runs
// Given: A thread whose deferred call writes shared state after calling Exit
// When: The next thread, started fresh or resumed from Yield, reads that state
// Then: The deferred call has already finished, with no overlap the race detector could see
func TestScheduler_ExitFinishesDefersFirst(t *testing.T) {
	tests := []struct {
		name       string
		parkedNext bool
	}{
		{name: "next thread starts fresh", parkedNext: false},
		{name: "next thread resumes from Yield", parkedNext: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t, nil)

			// Plain variables: only one thread may touch them at a time
			running := 0
			deferDone := false
			var seenRunning int
			var seenDone bool

			mustCreate(t, s, func() {
				defer func() {
					running = 1
					time.Sleep(200 * time.Microsecond)
					running = 0
					deferDone = true
				}()
				if tt.parkedNext {
					if err := s.Yield(0); err != nil {
						t.Errorf("Yield() error = %v", err)
					}
				}
				s.Exit()
			}, 0)
			mustCreate(t, s, func() {
				if tt.parkedNext {
					if err := s.Yield(1); err != nil {
						t.Errorf("Yield() error = %v", err)
					}
				}
				seenRunning = running
				seenDone = deferDone
				s.Exit()
			}, 1)

			runToCompletion(t, s)

			if seenRunning != 0 {
				t.Error("next thread ran while the exiting thread's deferred call was running")
			}
			if !seenDone {
				t.Error("next thread ran before the exiting thread's deferred call finished")
			}
		})
	}
}

// TestScheduler_YieldAdoptsCaller verifies Yield from outside any thread
// Given: One ready thread and a caller that is not a logical thread
// When: The caller yields
// Then: The thread runs, exits, and the caller is resumed as the last thread
func TestScheduler_YieldAdoptsCaller(t *testing.T) {
	s := newTestScheduler(t, nil)
	ran := false
	mustCreate(t, s, func() {
		ran = true
		s.Exit()
	}, 0)

	if err := s.Yield(5); err != nil {
		t.Fatalf("Yield() error = %v", err)
	}

	if !ran {
		t.Fatal("ready thread did not run")
	}
	info, ok := s.Current()
	if !ok || !info.Adopted || info.Priority != 5 {
		t.Fatalf("Current() = %+v, %v; want adopted thread at priority 5", info, ok)
	}
	if err := s.Yield(0); !errors.Is(err, ErrNoOtherReadyThread) {
		t.Errorf("second Yield() error = %v, want ErrNoOtherReadyThread", err)
	}

	s.Close()
	<-s.Done()
}

// TestScheduler_DispatchHistory verifies recorded reasons and order
func TestScheduler_DispatchHistory(t *testing.T) {
	s := newTestScheduler(t, nil)

	a := mustCreate(t, s, func() {
		s.Yield(3)
		s.Exit()
	}, 1)
	b := mustCreate(t, s, func() { s.Exit() }, 2)

	runToCompletion(t, s)

	recent := s.RecentDispatches(0)
	if len(recent) != 3 {
		t.Fatalf("len(RecentDispatches) = %d, want 3", len(recent))
	}
	// Newest first
	want := []struct {
		id     ThreadID
		reason DispatchReason
	}{
		{a, DispatchExit},
		{b, DispatchYield},
		{a, DispatchStart},
	}
	for i, w := range want {
		if recent[i].ThreadID != w.id || recent[i].Reason != w.reason {
			t.Errorf("recent[%d] = %s/%s, want %s/%s", i, recent[i].ThreadID, recent[i].Reason, w.id, w.reason)
		}
	}
	if recent[0].Priority != 3 {
		t.Errorf("re-dispatched priority = %d, want 3", recent[0].Priority)
	}
	if recent[1].From != a || recent[2].From != "" {
		t.Errorf("from fields = %q, %q", recent[1].From, recent[2].From)
	}

	last, ok := s.LastDispatch()
	if !ok || last.Sequence != 3 {
		t.Errorf("LastDispatch() = %+v, %v", last, ok)
	}
}

// TestScheduler_Lifecycle verifies errors around start and teardown
func TestScheduler_Lifecycle(t *testing.T) {
	s := newTestScheduler(t, nil)

	if _, err := s.Create(nil, 0); !errors.Is(err, ErrNilEntry) {
		t.Errorf("Create(nil) error = %v, want ErrNilEntry", err)
	}

	var nestedRun error
	mustCreate(t, s, func() {
		nestedRun = s.Run(context.Background())
		s.Exit()
	}, 0)

	runToCompletion(t, s)

	if !errors.Is(nestedRun, ErrAlreadyStarted) {
		t.Errorf("Run() inside a thread error = %v, want ErrAlreadyStarted", nestedRun)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() after teardown error = %v, want ErrClosed", err)
	}
	if _, err := s.Create(func() {}, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Create() after teardown error = %v, want ErrClosed", err)
	}
	if err := s.Yield(0); !errors.Is(err, ErrClosed) {
		t.Errorf("Yield() after teardown error = %v, want ErrClosed", err)
	}
}

// TestScheduler_CloseReleasesReadyThreads verifies Close on an unstarted scheduler
func TestScheduler_CloseReleasesReadyThreads(t *testing.T) {
	alloc := NewPooledStackAllocator(0)
	s := newTestScheduler(t, func(cfg *SchedulerConfig) { cfg.StackAllocator = alloc })
	for i := range 3 {
		mustCreate(t, s, func() { s.Exit() }, i)
	}

	s.Close()
	s.Close()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done() not closed after Close")
	}
	if alloc.InUse() != 0 {
		t.Errorf("InUse() = %d, want 0", alloc.InUse())
	}
	if s.ReadyCount() != 0 {
		t.Errorf("ReadyCount() = %d, want 0", s.ReadyCount())
	}
}

// TestScheduler_RunContextCancel verifies Run gives up when ctx ends
func TestScheduler_RunContextCancel(t *testing.T) {
	s := newTestScheduler(t, nil)
	release := make(chan struct{})
	mustCreate(t, s, func() {
		<-release
		s.Exit()
	}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want DeadlineExceeded", err)
	}

	close(release)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not finish after release")
	}
}

func TestNewScheduler_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *SchedulerConfig)
	}{
		{"zero stack", func(cfg *SchedulerConfig) { cfg.StackSize = 0 }},
		{"negative max threads", func(cfg *SchedulerConfig) { cfg.MaxThreads = -1 }},
		{"unknown queue", func(cfg *SchedulerConfig) { cfg.Queue = "fifo" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSchedulerConfig()
			tt.mutate(cfg)
			if _, err := NewScheduler(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewScheduler error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewScheduler_Defaults(t *testing.T) {
	s, err := NewScheduler(&SchedulerConfig{StackSize: 1024})
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	if s.Name() != "uthread" {
		t.Errorf("Name() = %q, want uthread", s.Name())
	}
	if s.StackSize() != 1024 {
		t.Errorf("StackSize() = %d, want 1024", s.StackSize())
	}
	if _, ok := s.Current(); ok {
		t.Error("Current() should be empty before the first dispatch")
	}
	st := s.Stats()
	if st.Started || st.Closed || st.Live != 0 {
		t.Errorf("initial stats = %+v", st)
	}
}
