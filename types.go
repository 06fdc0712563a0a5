package uthread

import "github.com/Swind/go-uthread/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the uthread package for most use cases.

// Scheduler multiplexes logical threads onto one thread of execution
type Scheduler = core.Scheduler

// SchedulerConfig holds the scheduler settings and handlers
type SchedulerConfig = core.SchedulerConfig

// ThreadFunc is the entry point of a logical thread
type ThreadFunc = core.ThreadFunc

// ThreadID identifies a logical thread
type ThreadID = core.ThreadID

// ThreadInfo is a read-only snapshot of a thread
type ThreadInfo = core.ThreadInfo

// SchedulerStats is a snapshot of the scheduler state
type SchedulerStats = core.SchedulerStats

// DispatchRecord captures one hand-off to a thread
type DispatchRecord = core.DispatchRecord

// Logger and Metrics are the pluggable observability hooks
type (
	Logger  = core.Logger
	Metrics = core.Metrics
)

// Ready queue kinds
const (
	QueueCircular = core.QueueCircular
	QueueHeap     = core.QueueHeap
)

// Errors returned by the scheduler operations
var (
	ErrAllocationFailure  = core.ErrAllocationFailure
	ErrNoOtherReadyThread = core.ErrNoOtherReadyThread
	ErrNilEntry           = core.ErrNilEntry
	ErrClosed             = core.ErrClosed
	ErrAlreadyStarted     = core.ErrAlreadyStarted
	ErrInvalidConfig      = core.ErrInvalidConfig
)

// DefaultSchedulerConfig returns a config with default handlers
var DefaultSchedulerConfig = core.DefaultSchedulerConfig

// NewScheduler creates an independent scheduler instance.
// Use this instead of the global functions when more than one scheduler is needed, e.g. in tests.
func NewScheduler(config *SchedulerConfig) (*Scheduler, error) {
	return core.NewScheduler(config)
}
