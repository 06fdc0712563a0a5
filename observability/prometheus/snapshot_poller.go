package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-uthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	ready      *prom.GaugeVec
	live       *prom.GaugeVec
	active     *prom.GaugeVec
	dispatched *prom.GaugeVec
	yields     *prom.GaugeVec
	started    *prom.GaugeVec
	closed     *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	ready := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "uthread",
		Name:      "scheduler_ready",
		Help:      "Number of ready threads per scheduler.",
	}, []string{"scheduler"})
	live := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "uthread",
		Name:      "scheduler_live",
		Help:      "Number of live threads (ready plus active) per scheduler.",
	}, []string{"scheduler"})
	active := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "uthread",
		Name:      "scheduler_active_priority",
		Help:      "Priority of the active thread, absent while no thread is active.",
	}, []string{"scheduler"})
	dispatched := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "uthread",
		Name:      "scheduler_dispatched",
		Help:      "Scheduler dispatch count snapshot.",
	}, []string{"scheduler"})
	yields := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "uthread",
		Name:      "scheduler_yields",
		Help:      "Scheduler yield count snapshot, by outcome.",
	}, []string{"scheduler", "outcome"})
	started := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "uthread",
		Name:      "scheduler_started",
		Help:      "Scheduler started state (1=started, 0=not started).",
	}, []string{"scheduler"})
	closed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "uthread",
		Name:      "scheduler_closed",
		Help:      "Scheduler closed state (1=closed, 0=open).",
	}, []string{"scheduler"})

	var err error
	if ready, err = registerCollector(reg, ready); err != nil {
		return nil, err
	}
	if live, err = registerCollector(reg, live); err != nil {
		return nil, err
	}
	if active, err = registerCollector(reg, active); err != nil {
		return nil, err
	}
	if dispatched, err = registerCollector(reg, dispatched); err != nil {
		return nil, err
	}
	if yields, err = registerCollector(reg, yields); err != nil {
		return nil, err
	}
	if started, err = registerCollector(reg, started); err != nil {
		return nil, err
	}
	if closed, err = registerCollector(reg, closed); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),
		ready:      ready,
		live:       live,
		active:     active,
		dispatched: dispatched,
		yields:     yields,
		started:    started,
		closed:     closed,
	}, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling and takes one final snapshot; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	p.CollectOnce()

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

// CollectOnce exports one snapshot of every registered scheduler.
func (p *SnapshotPoller) CollectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.ready.WithLabelValues(name).Set(float64(stats.Ready))
		p.live.WithLabelValues(name).Set(float64(stats.Live))
		if stats.Active {
			p.active.WithLabelValues(name).Set(float64(stats.ActivePriority))
		} else {
			p.active.DeleteLabelValues(name)
		}
		p.dispatched.WithLabelValues(name).Set(float64(stats.Dispatched))
		p.yields.WithLabelValues(name, "accepted").Set(float64(stats.Yields))
		p.yields.WithLabelValues(name, "rejected").Set(float64(stats.YieldsRejected))
		p.started.WithLabelValues(name).Set(boolGauge(stats.Started))
		p.closed.WithLabelValues(name).Set(boolGauge(stats.Closed))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
