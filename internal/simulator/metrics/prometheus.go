// Package metrics exports simulation progress to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/runner"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/worker"
)

// Metrics holds the simulator's Prometheus metrics. It implements
// runner.Observer, so it is fed from worker checkpoints and never from the
// allocation loop itself.
type Metrics struct {
	// Allocation metrics
	AllocatedBytes *prometheus.CounterVec
	SurvivedBytes  prometheus.Counter
	PinnedBytes    prometheus.Counter
	Iterations     prometheus.Counter

	// Live set
	LiveBytes *prometheus.GaugeVec

	// Run status
	CurrentPhase  prometheus.Gauge
	PhaseThreads  prometheus.Gauge
	Running       prometheus.Gauge
	RunSeconds    prometheus.Gauge
	RunsCompleted prometheus.Counter
}

var _ runner.Observer = (*Metrics)(nil)

// New registers the simulator metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		AllocatedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gcperfsim_allocated_bytes_total",
				Help: "Bytes allocated by the simulator, by heap region",
			},
			[]string{"region"},
		),
		SurvivedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gcperfsim_survived_bytes_total",
				Help: "Bytes of objects kept in the long-lived survivor set",
			},
		),
		PinnedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gcperfsim_pinned_bytes_total",
				Help: "Bytes of surviving objects that were pinned",
			},
		),
		Iterations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gcperfsim_iterations_total",
				Help: "Allocation loop iterations across all workers",
			},
		),
		LiveBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gcperfsim_live_bytes",
				Help: "Bytes held in survivor sets at the last checkpoint",
			},
			[]string{"thread"},
		),
		CurrentPhase: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gcperfsim_current_phase",
				Help: "Index of the phase being executed",
			},
		),
		PhaseThreads: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gcperfsim_phase_threads",
				Help: "Worker count of the phase being executed",
			},
		),
		Running: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gcperfsim_running",
				Help: "Whether a run is in progress (1) or not (0)",
			},
		),
		RunSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gcperfsim_last_run_seconds",
				Help: "Wall-clock duration of the last finished run",
			},
		),
		RunsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gcperfsim_runs_completed_total",
				Help: "Runs that finished without error",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gcperfsim_objects_created_with_finalizers",
			Help: "Finalizable objects created in this process",
		},
		func() float64 { return float64(payload.NumCreatedWithFinalizers()) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gcperfsim_objects_finalized",
			Help: "Finalizable objects whose destructor has run",
		},
		func() float64 { return float64(payload.NumFinalized()) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gcperfsim_objects_outstanding",
			Help: "Objects constructed but not yet freed",
		},
		func() float64 { return float64(payload.ReadTotals().Outstanding()) },
	)
	return m
}

// Checkpoint adds a worker's deltas.
func (m *Metrics) Checkpoint(c worker.Checkpoint) {
	m.addRegion(bucket.RegionOrdinary, c.Allocated.Ordinary)
	m.addRegion(bucket.RegionLarge, c.Allocated.Large)
	m.addRegion(bucket.RegionPinned, c.Allocated.Pinned)
	m.SurvivedBytes.Add(float64(c.SurvivedBytes))
	m.PinnedBytes.Add(float64(c.PinnedBytes))
	m.Iterations.Add(float64(c.Iterations))
	m.LiveBytes.WithLabelValues(strconv.Itoa(c.Thread)).Set(float64(c.LiveBytes))
}

func (m *Metrics) addRegion(r bucket.Region, n uint64) {
	m.AllocatedBytes.WithLabelValues(r.String()).Add(float64(n))
}

// PhaseStarted records the new phase. Live sizes of the previous phase's
// workers are dropped since they were drained.
func (m *Metrics) PhaseStarted(phase int, threads uint32) {
	m.LiveBytes.Reset()
	m.CurrentPhase.Set(float64(phase))
	m.PhaseThreads.Set(float64(threads))
	m.Running.Set(1)
}

// RunFinished records the end of a successful run.
func (m *Metrics) RunFinished(res *runner.Result) {
	m.LiveBytes.Reset()
	m.Running.Set(0)
	m.RunSeconds.Set(res.Seconds)
	m.RunsCompleted.Inc()
}
