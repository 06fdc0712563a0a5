package core

import (
	"fmt"
	"os"
)

// =============================================================================
// PanicHandler: Interface for handling thread panics
// =============================================================================

// PanicHandler is called when a thread's entry function panics. The thread
// is exited right after the handler returns.
type PanicHandler interface {
	// HandlePanic is called when a thread panics.
	//
	// Parameters:
	// - thread: Snapshot of the thread that panicked
	// - panicInfo: The panic value recovered from the entry function
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(thread ThreadInfo, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(thread ThreadInfo, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Thread %s (%s) prio=%d] Panic: %v\nStack trace:\n%s",
		thread.ID, thread.Name, thread.Priority, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from whichever thread is running at the time and
// should be non-blocking and fast to avoid stalling the hand-off.
type Metrics interface {
	// RecordThreadCreated records that a thread was enqueued by Create.
	RecordThreadCreated(priority int)

	// RecordAllocationFailure records a Create that could not obtain a stack.
	RecordAllocationFailure(reason string)

	// RecordDispatch records that a thread was promoted to the active slot.
	RecordDispatch(reason DispatchReason, priority int)

	// RecordYieldRejected records a Yield that found no other ready thread.
	RecordYieldRejected()

	// RecordThreadExit records the destruction of a thread.
	RecordThreadExit()

	// RecordThreadPanic records that a thread's entry function panicked.
	RecordThreadPanic(panicInfo any)

	// RecordReadyQueueDepth records the number of ready threads after a change.
	RecordReadyQueueDepth(depth int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordThreadCreated(priority int)                   {}
func (m *NilMetrics) RecordAllocationFailure(reason string)              {}
func (m *NilMetrics) RecordDispatch(reason DispatchReason, priority int) {}
func (m *NilMetrics) RecordYieldRejected()                               {}
func (m *NilMetrics) RecordThreadExit()                                  {}
func (m *NilMetrics) RecordThreadPanic(panicInfo any)                    {}
func (m *NilMetrics) RecordReadyQueueDepth(depth int)                    {}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

// SchedulerConfig holds configuration options for Scheduler.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Name labels the scheduler in logs and metrics. Defaults to "uthread".
	Name string

	// StackSize is the fixed size of the stack allocated for every thread.
	StackSize int

	// MaxThreads caps how many stacks may be live at once (0 = unbounded).
	// Ignored when StackAllocator is set.
	MaxThreads int

	// Queue selects the ready queue implementation. Defaults to QueueCircular.
	Queue QueueKind

	// HistoryCapacity is how many dispatch records are kept.
	HistoryCapacity int

	// StackAllocator overrides the default PooledStackAllocator.
	StackAllocator StackAllocator

	// Logger receives scheduler events. Defaults to NoOpLogger.
	Logger Logger

	// Metrics is called to record scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler is called when a thread panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Terminate ends the process after the last thread exits. Defaults to
	// os.Exit. If it returns, the calling goroutine is terminated instead.
	Terminate func(code int)
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Name:            "uthread",
		StackSize:       DefaultStackSize,
		Queue:           QueueCircular,
		HistoryCapacity: defaultHistoryCapacity,
		Logger:          &NoOpLogger{},
		Metrics:         &NilMetrics{},
		PanicHandler:    &DefaultPanicHandler{},
		Terminate:       os.Exit,
	}
}
