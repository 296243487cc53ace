package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records duration and outcome of asynchronous jobs.
type JobMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// NewJobMetrics registers the job metrics on the provided registerer.  A nil
// registerer yields a collector that records nothing.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parking_job_duration_seconds",
		Help:    "Duration of report and export jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_job_outcomes_total",
		Help: "Finished jobs by kind and final status.",
	}, []string{"kind", "status"})
	reg.MustRegister(duration, outcomes)
	return &JobMetrics{duration: duration, outcomes: outcomes}
}

func (m *JobMetrics) ObserveDuration(kind string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(kind)).Observe(d.Seconds())
}

func (m *JobMetrics) IncOutcome(kind, status string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(kind), normalizeLabel(status)).Inc()
}

// SchedulerMetrics counts scheduler ticks by outcome.
type SchedulerMetrics struct {
	ticks *prometheus.CounterVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return &SchedulerMetrics{}
	}
	ticks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_scheduler_ticks_total",
		Help: "Scheduler ticks by outcome (queued, warning, skipped, error).",
	}, []string{"outcome"})
	reg.MustRegister(ticks)
	return &SchedulerMetrics{ticks: ticks}
}

func (m *SchedulerMetrics) IncTick(outcome string) {
	if m == nil || m.ticks == nil {
		return
	}
	m.ticks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AllocationMetrics counts engine operations by result code.
type AllocationMetrics struct {
	ops     *prometheus.CounterVec
	retries *prometheus.CounterVec
}

func NewAllocationMetrics(reg prometheus.Registerer) *AllocationMetrics {
	if reg == nil {
		return &AllocationMetrics{}
	}
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_allocation_operations_total",
		Help: "Allocation engine operations by operation and result code.",
	}, []string{"op", "result"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_allocation_tx_retries_total",
		Help: "Store transactions retried after a transient failure.",
	}, []string{"op"})
	reg.MustRegister(ops, retries)
	return &AllocationMetrics{ops: ops, retries: retries}
}

func (m *AllocationMetrics) IncOp(op, result string) {
	if m == nil || m.ops == nil {
		return
	}
	m.ops.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}

func (m *AllocationMetrics) IncRetry(op string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(op)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
