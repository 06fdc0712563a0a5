package core

import (
	"errors"
	"runtime"
	"testing"
	"time"
)

// TestScheduler_GC_CloseStopsParkedThreads verifies Close leaves no goroutine behind
// Given: Schedulers whose only thread is parked inside Yield
// When: Each scheduler is closed
// Then: The parked goroutines end and the goroutine count returns to its start
func TestScheduler_GC_CloseStopsParkedThreads(t *testing.T) {
	// Arrange - Track goroutine count
	initialGoroutines := runtime.NumGoroutine()

	const iterations = 50

	// Act - Park one thread per scheduler, then close it
	for range iterations {
		s := newTestScheduler(t, nil)
		mustCreate(t, s, func() {
			for s.Yield(0) == nil {
			}
			s.Exit()
		}, 0)

		// Adopts the test goroutine; the thread runs once and yields back
		if err := s.Yield(0); err != nil {
			t.Fatalf("Yield() error = %v", err)
		}

		s.Close()
		<-s.Done()
	}

	// Assert - Verify goroutines cleaned up
	tolerance := 5
	deadline := time.Now().Add(2 * time.Second)
	finalGoroutines := runtime.NumGoroutine()
	for finalGoroutines > initialGoroutines+tolerance && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
		finalGoroutines = runtime.NumGoroutine()
	}

	t.Logf("Goroutine count: initial %d, after %d closed schedulers %d",
		initialGoroutines, iterations, finalGoroutines)

	if finalGoroutines > initialGoroutines+tolerance {
		t.Errorf("goroutines leaked: started with %d, now have %d (expected <= %d)",
			initialGoroutines, finalGoroutines, initialGoroutines+tolerance)
	}
}

// TestScheduler_CloseWakesAdoptedCaller verifies an adopted goroutine parked in Yield gets ErrClosed
// Given: The test goroutine adopted by Yield and parked in the ready queue
// When: The running thread closes the scheduler and exits
// Then: The test goroutine's Yield returns ErrClosed instead of blocking forever
func TestScheduler_CloseWakesAdoptedCaller(t *testing.T) {
	s := newTestScheduler(t, nil)
	mustCreate(t, s, func() {
		s.Close()
		s.Exit()
	}, 0)

	result := make(chan error, 1)
	go func() { result <- s.Yield(5) }()

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Yield() error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("adopted caller still parked after Close")
	}
}
