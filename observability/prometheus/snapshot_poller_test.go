package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-uthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type schedulerStub struct {
	stats core.SchedulerStats
}

func (s schedulerStub) Stats() core.SchedulerStats { return s.stats }

func TestSnapshotPoller_CollectsSchedulerStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddScheduler("sched-a", schedulerStub{stats: core.SchedulerStats{
		Ready:          3,
		Live:           4,
		Active:         true,
		ActivePriority: 2,
		Dispatched:     9,
		Yields:         5,
		YieldsRejected: 1,
		Started:        true,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		ready := testutil.ToFloat64(poller.ready.WithLabelValues("sched-a"))
		live := testutil.ToFloat64(poller.live.WithLabelValues("sched-a"))
		return ready == 3 && live == 4
	})

	if got := testutil.ToFloat64(poller.active.WithLabelValues("sched-a")); got != 2 {
		t.Fatalf("active priority gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.yields.WithLabelValues("sched-a", "rejected")); got != 1 {
		t.Fatalf("rejected yields gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.started.WithLabelValues("sched-a")); got != 1 {
		t.Fatalf("started gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.closed.WithLabelValues("sched-a")); got != 0 {
		t.Fatalf("closed gauge = %v, want 0", got)
	}
}

// TestSnapshotPoller_RealScheduler verifies polling a live scheduler
// Given: A scheduler with two created threads that has not been started
// When: A snapshot is collected before and after running it
// Then: The ready gauge drops to zero and the closed gauge flips to 1
func TestSnapshotPoller_RealScheduler(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	cfg := core.DefaultSchedulerConfig()
	cfg.Terminate = func(int) {}
	s, err := core.NewScheduler(cfg)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	for p := range 2 {
		if _, err := s.Create(func() { s.Exit() }, p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	poller.AddScheduler(s.Name(), s)

	poller.CollectOnce()
	if got := testutil.ToFloat64(poller.ready.WithLabelValues("uthread")); got != 2 {
		t.Fatalf("ready gauge before run = %v, want 2", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	poller.CollectOnce()
	if got := testutil.ToFloat64(poller.ready.WithLabelValues("uthread")); got != 0 {
		t.Errorf("ready gauge after run = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.closed.WithLabelValues("uthread")); got != 1 {
		t.Errorf("closed gauge after run = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.dispatched.WithLabelValues("uthread")); got != 2 {
		t.Errorf("dispatched gauge after run = %v, want 2", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
