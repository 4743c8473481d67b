package worker_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/worker"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
)

type recordingObserver struct {
	mu          sync.Mutex
	checkpoints []worker.Checkpoint
}

func (o *recordingObserver) Checkpoint(c worker.Checkpoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkpoints = append(o.checkpoints, c)
}

func (o *recordingObserver) totals() (iterations uint64, allocated bucket.RegionBytes) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.checkpoints {
		iterations += c.Iterations
		allocated = allocated.Add(c.Allocated)
	}
	return iterations, allocated
}

func TestFixedBudgetSingleBucket(t *testing.T) {
	before := payload.ReadTotals()
	w := worker.New(worker.Options{Phase: workload.Phase{
		TestKind:        workload.TestTime,
		AllocType:       payload.AllocSimple,
		TotalAllocBytes: 1000,
		Buckets: []bucket.Spec{
			{SizeRange: bucket.SizeRange{Low: 100, High: 100}, SurvInterval: 2, Weight: 1},
		},
		ThreadCount: 1,
	}})
	assert.Equal(t, worker.StateIdle, w.State())

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.StateDone, w.State())

	assert.Equal(t, uint64(10), res.Iterations)
	require.Len(t, res.Buckets, 1)
	assert.Equal(t, uint64(10), res.Buckets[0].Count)
	assert.Equal(t, uint64(5), res.Buckets[0].SurvivedCount)
	assert.Equal(t, uint64(1000), res.Buckets[0].AllocatedBytes)
	assert.Equal(t, bucket.RegionBytes{Ordinary: 1000}, res.Regions)
	assert.False(t, res.Interrupted)

	after := payload.ReadTotals()
	assert.Equal(t, before.Constructed+10, after.Constructed)
	assert.Equal(t, before.Outstanding(), after.Outstanding())
}

func TestReferenceRunWithRequestSet(t *testing.T) {
	before := payload.ReadTotals()
	stats := payload.NewStatistics()
	obs := &recordingObserver{}

	w := worker.New(worker.Options{
		Phase: workload.Phase{
			TestKind:          workload.TestTime,
			AllocType:         payload.AllocReference,
			TotalLiveBytes:    16 << 20,
			TotalAllocBytes:   32 << 20,
			RequestLiveBytes:  64 << 10,
			RequestAllocBytes: 512 << 10,
			Buckets: []bucket.Spec{
				{SizeRange: bucket.SizeRange{Low: 100, High: 4000}, SurvInterval: 30, ReqSurvInterval: 3, PinInterval: 5, FinalizableInterval: 7, Weight: 100},
				{SizeRange: bucket.SizeRange{Low: 100_000, High: 110_000}, SurvInterval: 5, ReqSurvInterval: 2, Weight: 0.1},
				{SizeRange: bucket.SizeRange{Low: 200, High: 2000}, Weight: 1, IsPoh: true},
			},
			ThreadCount: 1,
			Compute:     10,
		},
		Seed:           3,
		VerifyLiveSize: true,
		Stats:          stats,
		Observer:       obs,
	})

	res, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, workload.AboutEquals(float64(res.InitialLive), 16<<20), "initial live %d", res.InitialLive)
	assert.GreaterOrEqual(t, res.Regions.Total(), uint64(32<<20))
	assert.NotZero(t, res.Regions.Large)
	assert.NotZero(t, res.Regions.Pinned)
	// Every constructor charge matches the bucket-side accounting.
	assert.Equal(t, res.Regions, stats.Regions())

	iterations, allocated := obs.totals()
	assert.Equal(t, res.Iterations, iterations)
	assert.Equal(t, res.Regions, allocated)

	after := payload.ReadTotals()
	assert.Equal(t, before.Outstanding(), after.Outstanding())
	assert.Equal(t, after.Pinned-before.Pinned, after.Unpinned-before.Unpinned)
	assert.Equal(t, after.CreatedWithFinalizers-before.CreatedWithFinalizers, after.Finalized-before.Finalized)
	assert.Greater(t, after.CreatedWithFinalizers, before.CreatedWithFinalizers)
}

func TestSameSeedSameResult(t *testing.T) {
	phase := workload.Phase{
		TestKind:        workload.TestTime,
		AllocType:       payload.AllocSimple,
		TotalAllocBytes: 4 << 20,
		Buckets: []bucket.Spec{
			{SizeRange: bucket.SizeRange{Low: 100, High: 4000}, SurvInterval: 10, Weight: 3},
			{SizeRange: bucket.SizeRange{Low: 90_000, High: 100_000}, SurvInterval: 3, Weight: 1},
		},
		ThreadCount: 1,
	}
	a, err := worker.New(worker.Options{Phase: phase, Seed: 9}).Run(context.Background())
	require.NoError(t, err)
	b, err := worker.New(worker.Options{Phase: phase, Seed: 9}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.Iterations, b.Iterations)
	assert.Equal(t, a.Regions, b.Regions)
	assert.Equal(t, a.Buckets, b.Buckets)
}

func TestDurationBoundedPhase(t *testing.T) {
	w := worker.New(worker.Options{Phase: workload.Phase{
		TestKind:  workload.TestTime,
		AllocType: payload.AllocSimple,
		Duration:  50 * time.Millisecond,
		Buckets: []bucket.Spec{
			{SizeRange: bucket.SizeRange{Low: 100, High: 200}, Weight: 1},
		},
		ThreadCount: 1,
	}})
	start := time.Now()
	res, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.NotZero(t, res.Iterations)
}

func TestHighSurvivalPhase(t *testing.T) {
	before := payload.ReadTotals()
	w := worker.New(worker.Options{Phase: workload.Phase{
		TestKind:       workload.TestHighSurvival,
		AllocType:      payload.AllocReference,
		TotalLiveBytes: 512 << 10,
		Duration:       20 * time.Millisecond,
		Buckets: []bucket.Spec{
			{SizeRange: bucket.SizeRange{Low: 200, High: 2000}, Weight: 1},
		},
		ThreadCount: 1,
	}})
	res, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, res.Iterations)
	assert.NotZero(t, res.InitialLive)
	assert.Equal(t, before.Outstanding(), payload.ReadTotals().Outstanding())
}

func TestCancelledContextInterrupts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := worker.New(worker.Options{Phase: workload.Phase{
		TestKind:  workload.TestTime,
		AllocType: payload.AllocSimple,
		Duration:  time.Hour,
		Buckets: []bucket.Spec{
			{SizeRange: bucket.SizeRange{Low: 100, High: 200}, Weight: 1},
		},
		ThreadCount: 1,
	}})
	res, err := w.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, worker.StateDone, w.State())
}

func TestPrefillMismatch(t *testing.T) {
	w := worker.New(worker.Options{Phase: workload.Phase{
		TestKind:        workload.TestTime,
		AllocType:       payload.AllocSimple,
		TotalLiveBytes:  150_000,
		TotalAllocBytes: 1 << 20,
		Buckets: []bucket.Spec{
			{SizeRange: bucket.SizeRange{Low: 100_000, High: 100_000}, Weight: 1},
		},
		ThreadCount: 1,
	}})
	_, err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, worker.ErrPrefillMismatch))
}

func TestObjectBelowOverheadIsFatal(t *testing.T) {
	w := worker.New(worker.Options{Phase: workload.Phase{
		TestKind:        workload.TestTime,
		AllocType:       payload.AllocReference,
		TotalAllocBytes: 1000,
		Buckets: []bucket.Spec{
			{SizeRange: bucket.SizeRange{Low: 50, High: 60}, Weight: 1},
		},
		ThreadCount: 1,
	}})
	_, err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, payload.ErrSizeBelowOverhead))
}

func TestProgressTable(t *testing.T) {
	var out bytes.Buffer
	w := worker.New(worker.Options{
		Phase: workload.Phase{
			TestKind:        workload.TestTime,
			AllocType:       payload.AllocSimple,
			TotalAllocBytes: 10_000,
			Buckets: []bucket.Spec{
				{SizeRange: bucket.SizeRange{Low: 1000, High: 1000}, Weight: 1},
			},
			ThreadCount: 1,
		},
		PrintEveryNthIter: 5,
		Out:               &out,
	})
	_, err := w.Run(context.Background())
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "b0 total")
	assert.Contains(t, text, "b0 pinned")
	assert.Contains(t, text, "5,000")
	// Header plus rows at iterations 0, 5 and 10.
	assert.Equal(t, 4, bytes.Count(out.Bytes(), []byte("\n")))
}

func TestProgressOnlyOnThreadZero(t *testing.T) {
	var out bytes.Buffer
	w := worker.New(worker.Options{
		Thread: 1,
		Phase: workload.Phase{
			TestKind:        workload.TestTime,
			AllocType:       payload.AllocSimple,
			TotalAllocBytes: 10_000,
			Buckets: []bucket.Spec{
				{SizeRange: bucket.SizeRange{Low: 1000, High: 1000}, Weight: 1},
			},
			ThreadCount: 2,
		},
		PrintEveryNthIter: 1,
		Out:               &out,
	})
	_, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, out.Len())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "initializing", worker.StateInitializing.String())
	assert.Equal(t, "steady", worker.StateSteady.String())
	assert.Equal(t, "draining", worker.StateDraining.String())
}
