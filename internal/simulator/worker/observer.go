package worker

import "github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"

// Checkpoint is a worker's activity since its previous checkpoint, plus the
// current live size.
type Checkpoint struct {
	Thread        int
	Phase         int
	Iterations    uint64
	Allocated     bucket.RegionBytes
	SurvivedBytes uint64
	PinnedBytes   uint64
	LiveBytes     uint64
}

// Observer receives checkpoints. It is called from worker goroutines, so
// implementations must be safe for concurrent use.
type Observer interface {
	Checkpoint(c Checkpoint)
}

// NopObserver ignores checkpoints.
type NopObserver struct{}

func (NopObserver) Checkpoint(Checkpoint) {}

// checkpoint reports the deltas since the previous call.
func (w *Worker) checkpoint() {
	total := Checkpoint{
		Thread:        w.opts.Thread,
		Phase:         w.opts.PhaseIndex,
		Iterations:    w.iterations,
		Allocated:     w.chooser.Regions(),
		SurvivedBytes: w.survivedBytes,
		PinnedBytes:   w.pinnedBytes,
	}
	delta := Checkpoint{
		Thread:     total.Thread,
		Phase:      total.Phase,
		Iterations: total.Iterations - w.last.Iterations,
		Allocated: bucket.RegionBytes{
			Ordinary: total.Allocated.Ordinary - w.last.Allocated.Ordinary,
			Large:    total.Allocated.Large - w.last.Allocated.Large,
			Pinned:   total.Allocated.Pinned - w.last.Allocated.Pinned,
		},
		SurvivedBytes: total.SurvivedBytes - w.last.SurvivedBytes,
		PinnedBytes:   total.PinnedBytes - w.last.PinnedBytes,
	}
	if w.old != nil {
		delta.LiveBytes = w.old.TotalLiveBytes()
	}
	if w.req != nil {
		delta.LiveBytes += w.req.TotalLiveBytes()
	}
	w.last = total
	w.opts.Observer.Checkpoint(delta)
}

// flush reports whatever happened after the last periodic checkpoint.
func (w *Worker) flush() {
	if w.chooser != nil {
		w.checkpoint()
	}
}
