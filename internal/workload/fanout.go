// Package workload provides reference thread workloads for exercising a
// scheduler end to end.
package workload

import (
	"errors"
	"fmt"
	"io"

	"github.com/Swind/go-uthread/core"
)

const (
	// DefaultSpawnPriority is the priority of every spawned thread.
	DefaultSpawnPriority = 2
	// DefaultYieldPriority is the priority each thread yields to.
	DefaultYieldPriority = 1
)

// FanOut is a self-spawning workload. Each thread prints a greeting, spawns
// two children while fewer than Limit children exist, yields once and exits.
//
// Its fields are only touched from logical threads, which never run
// concurrently, so FanOut needs no locking of its own.
type FanOut struct {
	sched *core.Scheduler
	out   io.Writer
	limit int

	SpawnPriority int
	YieldPriority int

	spawned int
	nextID  int
	err     error
}

// NewFanOut creates a workload that writes to out and stops spawning once
// limit children have been created.
func NewFanOut(s *core.Scheduler, out io.Writer, limit int) *FanOut {
	return &FanOut{
		sched:         s,
		out:           out,
		limit:         limit,
		SpawnPriority: DefaultSpawnPriority,
		YieldPriority: DefaultYieldPriority,
	}
}

// Start creates the root thread. Nothing runs until the scheduler is started.
func (f *FanOut) Start() error {
	_, err := f.sched.Create(f.run, f.SpawnPriority)
	return err
}

// Spawned returns how many children were created. Read it after the
// scheduler is done.
func (f *FanOut) Spawned() int { return f.spawned }

// Threads returns how many threads ran, the root included.
func (f *FanOut) Threads() int { return f.nextID }

// Err returns the first error a thread hit while spawning or yielding.
func (f *FanOut) Err() error { return f.err }

func (f *FanOut) run() {
	id := f.nextID
	f.nextID++

	fmt.Fprintf(f.out, "This is ult %d\n", id)
	if f.spawned < f.limit {
		for range 2 {
			if _, err := f.sched.Create(f.run, f.SpawnPriority); err != nil {
				f.fail(err)
				break
			}
			f.spawned++
		}
	}
	fmt.Fprintf(f.out, "This is ult %d again\n", id)
	if err := f.sched.Yield(f.YieldPriority); err != nil && !errors.Is(err, core.ErrNoOtherReadyThread) {
		f.fail(err)
	}
	fmt.Fprintf(f.out, "This is ult %d one more time\n", id)
	f.sched.Exit()
}

func (f *FanOut) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}
