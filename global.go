package uthread

import (
	"context"
	"sync"

	"github.com/Swind/go-uthread/core"
)

// =============================================================================
// Global Scheduler Helper (Singleton)
// =============================================================================

var (
	globalScheduler *core.Scheduler
	globalMu        sync.Mutex
)

// Init initializes the global scheduler with the default config.
// It must be called before Create, Yield or Exit. Repeated calls are no-ops.
func Init() error {
	return InitWithConfig(core.DefaultSchedulerConfig())
}

// InitWithConfig initializes the global scheduler with cfg.
func InitWithConfig(cfg *SchedulerConfig) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		return nil // Already initialized
	}

	s, err := core.NewScheduler(cfg)
	if err != nil {
		return err
	}
	globalScheduler = s
	return nil
}

// GetScheduler returns the global scheduler instance.
// It panics if Init has not been called.
func GetScheduler() *core.Scheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		panic("uthread: global scheduler not initialized. Call Init() first.")
	}
	return globalScheduler
}

// Shutdown closes the global scheduler and forgets it so Init can be called again.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		globalScheduler.Close()
		globalScheduler = nil
	}
}

// Create adds a thread running entry with the given priority to the global scheduler.
// Lower priority values run first.
func Create(entry ThreadFunc, priority int) (ThreadID, error) {
	return GetScheduler().Create(entry, priority)
}

// Yield hands control to the best ready thread and re-queues the caller at priority.
// It returns ErrNoOtherReadyThread when the caller is the only live thread.
func Yield(priority int) error {
	return GetScheduler().Yield(priority)
}

// Exit ends the calling thread. When it is the last one the process exits with status 0.
// Called from main after creating threads, it starts the scheduler and never returns.
func Exit() {
	GetScheduler().Exit()
}

// Run dispatches the global scheduler's threads and blocks until the last one exits.
func Run(ctx context.Context) error {
	return GetScheduler().Run(ctx)
}
