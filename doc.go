// Package uthread provides cooperative, many-to-one user-level threads for Go.
//
// Any number of logical threads, each with its own stack and integer priority,
// are multiplexed onto a single thread of execution. A thread runs until it
// calls Yield or Exit; there is no preemption.
//
// # Quick Start
//
// Initialize the global scheduler, create threads, then hand control over by
// calling Exit from main:
//
//	uthread.Init()
//	uthread.Create(worker, 2)
//	uthread.Create(worker, 5)
//	uthread.Exit() // never returns; the process exits when the last thread does
//
// Each entry function ends by calling Exit itself:
//
//	func worker() {
//		fmt.Println("working")
//		uthread.Yield(1) // let an equal or better priority thread run
//		fmt.Println("done")
//		uthread.Exit()
//	}
//
// # Key Concepts
//
// Priority: lower values run first. Among threads of equal priority, the one
// that entered the ready queue first runs first.
//
// Yield: re-queues the caller with a new priority and switches to the best
// ready thread. With no other ready thread it returns ErrNoOtherReadyThread
// and the caller keeps running.
//
// Exit: destroys the caller and switches to the best ready thread. When no
// thread is left the process terminates with status 0.
//
// # Embedding
//
// Scheduler instances can be created with NewScheduler and started with Run,
// which blocks until the last thread exits instead of terminating the
// process:
//
//	s, _ := uthread.NewScheduler(uthread.DefaultSchedulerConfig())
//	s.Create(func() { fmt.Println("hi"); s.Exit() }, 0)
//	s.Run(ctx)
//
// For more details, see https://github.com/Swind/go-uthread
package uthread
