package prometheus

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Swind/go-uthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// Scheduler is the value of the "scheduler" label. Defaults to "uthread".
	Scheduler string
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	scheduler string

	threadsCreatedTotal *prom.CounterVec
	allocFailuresTotal  *prom.CounterVec
	dispatchTotal       *prom.CounterVec
	yieldRejectedTotal  *prom.CounterVec
	threadExitsTotal    *prom.CounterVec
	threadPanicsTotal   *prom.CounterVec
	readyQueueDepth     *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "uthread"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	createdVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "threads_created_total",
		Help:      "Total number of threads created.",
	}, []string{"scheduler", "priority"})
	allocVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "allocation_failures_total",
		Help:      "Total number of thread creations that could not allocate a stack.",
	}, []string{"scheduler", "reason"})
	dispatchVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Total number of threads promoted to the active slot.",
	}, []string{"scheduler", "reason"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "yield_rejected_total",
		Help:      "Total number of yields with no other ready thread.",
	}, []string{"scheduler"})
	exitVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "thread_exits_total",
		Help:      "Total number of destroyed threads.",
	}, []string{"scheduler"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "thread_panics_total",
		Help:      "Total number of thread panics.",
	}, []string{"scheduler"})
	depthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "ready_queue_depth",
		Help:      "Current number of ready threads.",
	}, []string{"scheduler"})

	var err error
	if createdVec, err = registerCollector(reg, createdVec); err != nil {
		return nil, err
	}
	if allocVec, err = registerCollector(reg, allocVec); err != nil {
		return nil, err
	}
	if dispatchVec, err = registerCollector(reg, dispatchVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if exitVec, err = registerCollector(reg, exitVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if depthVec, err = registerCollector(reg, depthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		scheduler:           normalizeLabel(opts.Scheduler, "uthread"),
		threadsCreatedTotal: createdVec,
		allocFailuresTotal:  allocVec,
		dispatchTotal:       dispatchVec,
		yieldRejectedTotal:  rejectedVec,
		threadExitsTotal:    exitVec,
		threadPanicsTotal:   panicVec,
		readyQueueDepth:     depthVec,
	}, nil
}

// RecordThreadCreated records a created thread.
func (m *MetricsExporter) RecordThreadCreated(priority int) {
	if m == nil {
		return
	}
	m.threadsCreatedTotal.WithLabelValues(m.scheduler, priorityLabel(priority)).Inc()
}

// RecordAllocationFailure records a failed stack allocation.
func (m *MetricsExporter) RecordAllocationFailure(reason string) {
	if m == nil {
		return
	}
	m.allocFailuresTotal.WithLabelValues(m.scheduler, normalizeLabel(reason, "unknown")).Inc()
}

// RecordDispatch records a thread being promoted to the active slot.
func (m *MetricsExporter) RecordDispatch(reason core.DispatchReason, priority int) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(m.scheduler, normalizeLabel(string(reason), "unknown")).Inc()
}

// RecordYieldRejected records a yield with nothing else ready.
func (m *MetricsExporter) RecordYieldRejected() {
	if m == nil {
		return
	}
	m.yieldRejectedTotal.WithLabelValues(m.scheduler).Inc()
}

// RecordThreadExit records thread destruction.
func (m *MetricsExporter) RecordThreadExit() {
	if m == nil {
		return
	}
	m.threadExitsTotal.WithLabelValues(m.scheduler).Inc()
}

// RecordThreadPanic records thread panic events.
func (m *MetricsExporter) RecordThreadPanic(panicInfo any) {
	if m == nil {
		return
	}
	m.threadPanicsTotal.WithLabelValues(m.scheduler).Inc()
}

// RecordReadyQueueDepth records ready queue depth.
func (m *MetricsExporter) RecordReadyQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.readyQueueDepth.WithLabelValues(m.scheduler).Set(float64(depth))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// priorityLabel keeps label cardinality bounded: priorities outside 0..9
// are folded into "high" and "low".
func priorityLabel(priority int) string {
	switch {
	case priority < 0:
		return "high"
	case priority > 9:
		return "low"
	default:
		return strconv.Itoa(priority)
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
