// Package runner coordinates a simulation run: it starts the workers of each
// phase, waits for them, aggregates their results and renders the final
// STATS report.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/invariant"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/worker"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
)

// maxFullCollects bounds the finish-with-full-collect loop.
const maxFullCollects = 100

// RunState is the lifecycle stage of a run.
type RunState string

const (
	RunPending RunState = "pending"
	RunRunning RunState = "running"
	RunDone    RunState = "done"
	RunFailed  RunState = "failed"
)

// Observer receives run-level events in addition to worker checkpoints.
// Implementations must be safe for concurrent use.
type Observer interface {
	worker.Observer
	PhaseStarted(phase int, threads uint32)
	RunFinished(res *Result)
}

// NopObserver ignores everything.
type NopObserver struct{ worker.NopObserver }

func (NopObserver) PhaseStarted(int, uint32) {}
func (NopObserver) RunFinished(*Result)      {}

// Options configures a Runner.
type Options struct {
	Config *workload.Config
	// RunID identifies the run in logs and stored reports. A random id is
	// generated when empty.
	RunID    string
	Out      io.Writer
	Observer Observer
	Logger   *slog.Logger
}

// PhaseResult aggregates the workers of one phase.
type PhaseResult struct {
	Index       int                `json:"index"`
	Regions     bucket.RegionBytes `json:"regions"`
	Threads     []worker.Result    `json:"threads"`
	Elapsed     time.Duration      `json:"elapsed"`
	Interrupted bool               `json:"interrupted"`
}

// Result is the outcome of a whole run.
type Result struct {
	RunID                 string             `json:"runId"`
	StartedAt             time.Time          `json:"startedAt"`
	Regions               bucket.RegionBytes `json:"regions"`
	Seconds               float64            `json:"seconds"`
	CollectionCount       uint32             `json:"collectionCount"`
	CreatedWithFinalizers int64              `json:"numCreatedWithFinalizers"`
	Finalized             int64              `json:"numFinalized"`
	Memory                MemoryStats        `json:"memory"`
	Phases                []PhaseResult      `json:"phases"`
	Interrupted           bool               `json:"interrupted"`
}

// WorkerStatus is a snapshot of one worker of the current phase.
type WorkerStatus struct {
	Thread int    `json:"thread"`
	State  string `json:"state"`
}

// Status is a snapshot of a run, safe to take while it executes.
type Status struct {
	RunID      string         `json:"runId"`
	State      RunState       `json:"state"`
	Phase      int            `json:"phase"`
	PhaseCount int            `json:"phaseCount"`
	StartedAt  time.Time      `json:"startedAt,omitempty"`
	Elapsed    string         `json:"elapsed,omitempty"`
	Workers    []WorkerStatus `json:"workers"`
	Error      string         `json:"error,omitempty"`
}

// Runner executes a validated workload.Config once.
type Runner struct {
	cfg      *workload.Config
	runID    string
	out      io.Writer
	observer Observer
	log      *slog.Logger

	mu        sync.RWMutex
	state     RunState
	phase     int
	workers   []*worker.Worker
	startedAt time.Time
	finalErr  error
	result    *Result
}

// New validates cfg and returns a Runner for it.
func New(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.Wrap(workload.ErrInvalidConfig, "no config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      opts.Config,
		runID:    opts.RunID,
		out:      opts.Out,
		observer: opts.Observer,
		log:      logger.With("run_id", opts.RunID),
		state:    RunPending,
	}, nil
}

// RunID returns the run identifier.
func (r *Runner) RunID() string { return r.runID }

// Config returns the configuration the runner executes.
func (r *Runner) Config() *workload.Config { return r.cfg }

// Status returns a snapshot of the run.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		RunID:      r.runID,
		State:      r.state,
		Phase:      r.phase,
		PhaseCount: len(r.cfg.Phases),
		StartedAt:  r.startedAt,
		Workers:    make([]WorkerStatus, 0, len(r.workers)),
	}
	if !r.startedAt.IsZero() {
		st.Elapsed = time.Since(r.startedAt).Round(time.Millisecond).String()
	}
	for i, w := range r.workers {
		st.Workers = append(st.Workers, WorkerStatus{Thread: i, State: w.State().String()})
	}
	if r.finalErr != nil {
		st.Error = r.finalErr.Error()
	}
	return st
}

// Result returns the outcome once the run has finished successfully.
func (r *Runner) Result() (*Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result, r.result != nil
}

// Run executes every phase in order. A cancelled ctx stops the current
// phase; the result is then marked interrupted and later phases are skipped.
func (r *Runner) Run(ctx context.Context) (res *Result, err error) {
	r.mu.Lock()
	if r.state != RunPending {
		r.mu.Unlock()
		return nil, errors.Newf("run %s already started", r.runID)
	}
	r.state = RunRunning
	r.startedAt = time.Now()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.state = RunFailed
			r.finalErr = err
			r.log.Error("run failed", "error", err)
			return
		}
		r.state = RunDone
		r.result = res
	}()
	defer invariant.Recover(&err)

	res = &Result{RunID: r.runID, StartedAt: r.startedAt}
	before := payload.ReadTotals()

	fmt.Fprintf(r.out, "Running %d threads.\n", r.cfg.MaxThreads())
	for _, p := range r.cfg.Phases {
		fmt.Fprintln(r.out, p.Describe())
	}

	for i, p := range r.cfg.Phases {
		pr, err := r.runPhase(ctx, i, p)
		if err != nil {
			return nil, errors.Wrapf(err, "phase %d", i)
		}
		res.Phases = append(res.Phases, pr)
		res.Regions = res.Regions.Add(pr.Regions)
		if pr.Interrupted {
			res.Interrupted = true
			r.log.Warn("run interrupted", "phase", i)
			break
		}
	}
	res.Seconds = time.Since(r.startedAt).Seconds()

	after := payload.ReadTotals()
	invariant.Check(after.Outstanding() == before.Outstanding(),
		"%d objects were constructed but never freed", after.Outstanding()-before.Outstanding())
	invariant.Check(after.Pinned-before.Pinned == after.Unpinned-before.Unpinned,
		"pinned %d buffers but unpinned %d", after.Pinned-before.Pinned, after.Unpinned-before.Unpinned)

	if r.cfg.FinishWithFullCollect {
		r.finishWithFullCollect()
	}

	res.CreatedWithFinalizers = payload.NumCreatedWithFinalizers()
	res.Finalized = payload.NumFinalized()
	res.CollectionCount, res.Memory = readMemory()

	r.log.Info("run finished",
		"seconds", res.Seconds,
		"ordinary_bytes", res.Regions.Ordinary,
		"large_bytes", res.Regions.Large,
		"pinned_bytes", res.Regions.Pinned,
		"interrupted", res.Interrupted)
	r.observer.RunFinished(res)
	return res, nil
}

func (r *Runner) runPhase(ctx context.Context, index int, p workload.Phase) (PhaseResult, error) {
	start := time.Now()
	threads := int(p.ThreadCount)
	workers := make([]*worker.Worker, threads)
	stats := make([]*payload.Statistics, threads)
	for t := range workers {
		stats[t] = payload.NewStatistics()
		workers[t] = worker.New(worker.Options{
			Thread:            t,
			PhaseIndex:        index,
			Phase:             p,
			Seed:              r.cfg.Seed,
			VerifyLiveSize:    r.cfg.VerifyLiveSize,
			PrintEveryNthIter: r.cfg.PrintEveryNthIter,
			Out:               r.out,
			Stats:             stats[t],
			Observer:          r.observer,
			Logger:            r.log,
		})
	}

	r.mu.Lock()
	r.phase = index
	r.workers = workers
	r.mu.Unlock()
	r.observer.PhaseStarted(index, p.ThreadCount)
	r.log.Info("starting phase", "phase", index, "threads", threads, "test_kind", p.TestKind.String())

	results := make([]worker.Result, threads)
	errs := make([]error, threads)
	if threads == 1 {
		results[0], errs[0] = workers[0].Run(ctx)
	} else {
		var wg sync.WaitGroup
		for t, w := range workers {
			wg.Add(1)
			go func(t int, w *worker.Worker) {
				defer wg.Done()
				results[t], errs[t] = w.Run(ctx)
			}(t, w)
		}
		wg.Wait()
	}

	var err error
	for _, e := range errs {
		err = errors.CombineErrors(err, e)
	}
	if err != nil {
		return PhaseResult{}, err
	}

	pr := PhaseResult{Index: index, Threads: results, Elapsed: time.Since(start)}
	for t, wr := range results {
		pr.Regions = pr.Regions.Add(wr.Regions)
		pr.Interrupted = pr.Interrupted || wr.Interrupted
		if r.cfg.VerifyLiveSize {
			got := stats[t].Regions()
			invariant.Check(got == wr.Regions,
				"thread %d: constructors charged %+v, buckets counted %+v", t, got, wr.Regions)
		}
	}
	return pr, nil
}

// finishWithFullCollect collects until every finalizable object has been
// finalized.
func (r *Runner) finishWithFullCollect() {
	for i := 0; i < maxFullCollects; i++ {
		created, finalized := payload.NumCreatedWithFinalizers(), payload.NumFinalized()
		if finalized >= created {
			break
		}
		r.log.Info("finalizers pending, doing a full collect", "finalized", finalized, "created", created)
		runtime.GC()
	}
	invariant.Check(payload.NumFinalized() == payload.NumCreatedWithFinalizers(),
		"%d of %d finalizers ran", payload.NumFinalized(), payload.NumCreatedWithFinalizers())
}
