// Package worker runs one thread's share of a phase: it fills the survivor
// set, churns allocations until the phase budget runs out, then frees
// everything it holds.
package worker

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/invariant"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/prng"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/survivor"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
)

const (
	// checkEvery is how many iterations pass between clock, context and
	// observer checks.
	checkEvery = 1024
	pageSize   = 4096
)

// ErrPrefillMismatch is returned when the filled survivor set misses its
// target live size by more than 10%.
var ErrPrefillMismatch = errors.New("survivor set live size differs from target")

// State is the lifecycle stage of a worker.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateSteady
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateSteady:
		return "steady"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Options configures a Worker.
type Options struct {
	Thread     int
	PhaseIndex int
	Phase      workload.Phase

	Seed              uint32
	VerifyLiveSize    bool
	PrintEveryNthIter uint32

	// Out receives the progress table; only thread 0 writes it.
	Out io.Writer
	// Stats is charged by every object constructor. May be nil.
	Stats    *payload.Statistics
	Observer Observer
	Logger   *slog.Logger
}

// BucketResult is the final state of one bucket.
type BucketResult struct {
	Spec           bucket.Spec        `json:"spec"`
	Count          uint64             `json:"count"`
	SurvivedCount  uint64             `json:"survivedCount"`
	AllocatedBytes uint64             `json:"allocatedBytes"`
	Regions        bucket.RegionBytes `json:"regions"`
}

// Result is what a worker reports after draining.
type Result struct {
	Thread      int                `json:"thread"`
	Iterations  uint64             `json:"iterations"`
	Regions     bucket.RegionBytes `json:"regions"`
	Buckets     []BucketResult     `json:"buckets"`
	InitialLive uint64             `json:"initialLive"`
	Elapsed     time.Duration      `json:"elapsed"`
	Interrupted bool               `json:"interrupted"`
}

// Worker owns the random source, buckets and survivor sets of one thread.
// Only State may be called from other goroutines.
type Worker struct {
	opts  Options
	phase workload.Phase
	log   *slog.Logger
	state atomic.Int32

	rand     *prng.Rand
	chooser  *bucket.Chooser
	factory  *payload.Factory
	policy   survivor.Policy
	overhead uint32

	old      *survivor.Set
	req      *survivor.Set
	reqSlots uint32

	allocLeft int64
	reqLeft   int64

	survivedBytes uint64
	pinnedBytes   uint64
	iterations    uint64
	last          Checkpoint
}

// New returns a Worker for one phase.
func New(opts Options) *Worker {
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		opts:  opts,
		phase: opts.Phase,
		log:   logger.With("thread", opts.Thread, "phase", opts.PhaseIndex),
		rand:  prng.New(opts.Seed),
	}
}

// State returns the current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run executes the phase. Broken invariants are returned as assertion
// failures. A cancelled ctx stops the phase early; the worker still drains
// and the result is marked interrupted.
func (w *Worker) Run(ctx context.Context) (res Result, err error) {
	defer invariant.Recover(&err)
	start := time.Now()

	w.setState(StateInitializing)
	initialLive, err := w.initialize()
	if err != nil {
		w.drain()
		w.setState(StateDone)
		return Result{}, err
	}

	w.setState(StateSteady)
	var interrupted bool
	switch w.phase.TestKind {
	case workload.TestTime:
		interrupted, err = w.timeTest(ctx)
	case workload.TestHighSurvival:
		interrupted = w.highSurvivalTest(ctx)
	default:
		err = errors.Newf("unknown test kind %s", w.phase.TestKind)
	}
	w.flush()

	w.setState(StateDraining)
	w.drain()
	w.setState(StateDone)
	if err != nil {
		return Result{}, err
	}

	res = Result{
		Thread:      w.opts.Thread,
		Iterations:  w.iterations,
		Regions:     w.chooser.Regions(),
		InitialLive: initialLive,
		Elapsed:     time.Since(start),
		Interrupted: interrupted,
	}
	for _, b := range w.chooser.Buckets() {
		res.Buckets = append(res.Buckets, BucketResult{
			Spec:           b.Spec(),
			Count:          b.Count(),
			SurvivedCount:  b.SurvivedCount(),
			AllocatedBytes: b.AllocatedBytes(),
			Regions:        b.Regions(),
		})
	}
	return res, nil
}

func (w *Worker) initialize() (uint64, error) {
	chooser, err := bucket.NewChooser(w.phase.Buckets)
	if err != nil {
		return 0, errors.Wrapf(err, "thread %d", w.opts.Thread)
	}
	w.chooser = chooser
	w.factory = payload.NewFactory(w.phase.AllocType, w.opts.Stats)
	w.policy = survivor.PolicyFor(w.phase.AllocType)
	w.overhead = w.phase.AllocType.HeaderOverhead()
	w.allocLeft = int64(w.phase.TotalAllocBytes)

	avg := chooser.AverageObjectSize()
	n := uint32(w.phase.TotalLiveBytes / avg)
	w.old = survivor.New(n)
	for i := uint32(0); i < n; i++ {
		obj, _, err := w.makeObject()
		if err != nil {
			return 0, err
		}
		w.old.Initialize(i, obj)
	}

	w.reqSlots = uint32(w.phase.RequestLiveBytes / avg)
	w.resetRequestSet()

	live := w.old.TotalLiveBytes()
	if w.phase.TotalLiveBytes == 0 {
		invariant.Check(live < 100, "empty survivor set holds %d bytes", live)
	} else if !workload.AboutEquals(float64(live), float64(w.phase.TotalLiveBytes)) {
		return 0, errors.Wrapf(ErrPrefillMismatch, "thread %d: live %d, target %d", w.opts.Thread, live, w.phase.TotalLiveBytes)
	}
	if w.opts.VerifyLiveSize {
		w.old.VerifyLiveSize()
	}

	if w.phase.TotalAllocBytes != 0 {
		w.log.Info("stopping phase after allocation budget", "budget_mb", workload.BytesToMB(w.phase.TotalAllocBytes))
	} else {
		w.log.Info("stopping phase after duration", "duration", w.phase.RunDuration())
	}
	return live, nil
}

func (w *Worker) resetRequestSet() {
	if w.req != nil {
		w.req.FreeAll()
	}
	// Request survivors start empty and fill up through the policy.
	w.req = survivor.NewEmpty(w.reqSlots)
	w.reqLeft = int64(w.phase.RequestAllocBytes)
}

func (w *Worker) timeTest(ctx context.Context) (bool, error) {
	var table *progressTable
	if w.opts.Thread == 0 && w.opts.PrintEveryNthIter != 0 {
		table = newProgressTable(w.opts.Out, w.opts.Thread)
		table.header(len(w.chooser.Buckets()))
	}

	duration := w.phase.RunDuration()
	budgeted := w.phase.TotalAllocBytes != 0
	start := time.Now()
	lastPrint := start

	for n := uint64(0); ; n++ {
		if table != nil && bucket.IsNth(w.opts.PrintEveryNthIter, n) {
			now := time.Now()
			table.row(n, now.Sub(lastPrint), w.chooser.Buckets())
			lastPrint = now
		}
		if n%checkEvery == 0 {
			if duration != 0 && time.Since(start) >= duration {
				return false, nil
			}
			if ctx.Err() != nil {
				return true, nil
			}
			w.checkpoint()
		}
		if budgeted && w.allocLeft <= 0 {
			return false, nil
		}
		if w.phase.RequestAllocBytes > 0 && w.reqLeft <= 0 {
			w.resetRequestSet()
		}

		if err := w.allocateAndMaybeSurvive(); err != nil {
			return false, err
		}

		if w.phase.Compute != 0 {
			count := w.rand.Bounded(w.phase.Compute)
			for i := uint32(0); i < count; i++ {
				w.rand.Bounded(1000000)
			}
		}
		w.iterations++
	}
}

func (w *Worker) highSurvivalTest(ctx context.Context) bool {
	start := time.Now()
	for time.Since(start) < w.phase.Duration {
		if ctx.Err() != nil {
			return true
		}
		runtime.GC()
		w.iterations++
	}
	return false
}

func (w *Worker) allocateAndMaybeSurvive() error {
	obj, spec, err := w.makeObject()
	if err != nil {
		return err
	}
	switch {
	case spec.Survive:
		w.survivedBytes += uint64(spec.Size)
		if spec.Pinned {
			w.pinnedBytes += uint64(spec.Size)
		}
		w.policy.Survive(w.old, obj, w.rand, false)
		if w.opts.VerifyLiveSize {
			w.old.VerifyLiveSize()
		}
	case w.req.Length() > 0 && spec.SurviveRequest:
		rampUp := w.req.TotalLiveBytes() < w.phase.RequestLiveBytes
		w.policy.Survive(w.req, obj, w.rand, rampUp)
		if w.opts.VerifyLiveSize {
			w.req.VerifyLiveSize()
		}
	default:
		obj.Free()
	}
	return nil
}

func (w *Worker) makeObject() (payload.Object, bucket.ObjectSpec, error) {
	spec := w.chooser.Next(w.rand, w.overhead)
	w.allocLeft -= int64(spec.Size)
	w.reqLeft -= int64(spec.Size)
	obj, err := w.factory.New(spec)
	if err != nil {
		return nil, spec, errors.Wrapf(err, "thread %d", w.opts.Thread)
	}
	touchPages(obj.Payload())
	return obj, spec, nil
}

func (w *Worker) drain() {
	if w.old != nil {
		w.old.FreeAll()
	}
	if w.req != nil {
		w.req.FreeAll()
	}
}

// touchPages writes one byte per page so the memory is really committed.
func touchPages(b []byte) {
	numPages := len(b) / pageSize
	for i := 0; i < numPages; i++ {
		b[i*pageSize] = byte(i % 256)
	}
}
