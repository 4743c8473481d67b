package workload_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
)

const twoPhases = `
threadCount: 2
printEveryNthIter: 1000
verifyLiveSize: true
compute: 5
phases:
  - totalLive: 100Mi
    totalAlloc: 1Gi
    requestLive: 1Mi
    requestAlloc: 8Mi
    allocType: simple
    buckets:
      - lowSize: 200
        highSize: 400
        weight: 3
      - lowSize: 100000
        highSize: 200000
        survInterval: 5
        pinInterval: 0
  - testKind: highSurvival
    threadCount: 4
    totalLive: 1Gi
    totalMinutes: 0.5
    compute: 0
    buckets:
      - {}
`

func TestParseTwoPhases(t *testing.T) {
	cfg, err := workload.Parse([]byte(twoPhases))
	require.NoError(t, err)

	assert.True(t, cfg.VerifyLiveSize)
	assert.Equal(t, uint32(1000), cfg.PrintEveryNthIter)
	require.Len(t, cfg.Phases, 2)

	first := cfg.Phases[0]
	assert.Equal(t, workload.TestTime, first.TestKind)
	assert.Equal(t, payload.AllocSimple, first.AllocType)
	assert.Equal(t, uint32(2), first.ThreadCount)
	assert.Equal(t, uint32(5), first.Compute)
	assert.Equal(t, uint64(50<<20), first.TotalLiveBytes)
	assert.Equal(t, uint64(512<<20), first.TotalAllocBytes)
	assert.Equal(t, uint64(1<<20), first.RequestLiveBytes)
	assert.Equal(t, uint64(8<<20), first.RequestAllocBytes)
	require.Len(t, first.Buckets, 2)
	assert.Equal(t, bucket.Spec{
		SizeRange:       bucket.SizeRange{Low: 200, High: 400},
		SurvInterval:    workload.DefaultOrdinarySurvInterval,
		ReqSurvInterval: workload.DefaultReqOrdinarySurv,
		PinInterval:     workload.DefaultPinInterval,
		Weight:          3,
	}, first.Buckets[0])
	assert.Equal(t, uint32(5), first.Buckets[1].SurvInterval)
	assert.Zero(t, first.Buckets[1].PinInterval)

	second := cfg.Phases[1]
	assert.Equal(t, workload.TestHighSurvival, second.TestKind)
	assert.Equal(t, payload.AllocReference, second.AllocType)
	assert.Equal(t, uint32(4), second.ThreadCount)
	assert.Zero(t, second.Compute)
	assert.Equal(t, uint64(1<<28), second.TotalLiveBytes)
	assert.Equal(t, 30*time.Second, second.Duration)
	require.Len(t, second.Buckets, 1)
	assert.Equal(t, bucket.SizeRange{Low: 100, High: 4000}, second.Buckets[0].SizeRange)
}

func TestParseSizeDistributionBucket(t *testing.T) {
	cfg, err := workload.Parse([]byte(`
phases:
  - totalLive: 10Mi
    totalAlloc: 100Mi
    buckets:
      - lowSize: 48
        highSize: 84999
        sizeDistribution: true
      - lowSize: 24
        highSize: 10000000
        isPoh: true
        survInterval: 0
        pinInterval: 0
        sizeDistribution: true
`))
	require.NoError(t, err)
	specs := cfg.Phases[0].Buckets
	var poh int
	for _, s := range specs {
		if s.IsPoh {
			poh++
		}
	}
	assert.Equal(t, len(bucket.PinnedSlots), poh)
	assert.Greater(t, len(specs)-poh, 40)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown top-level key", "phases: []\nthreads: 3\n"},
		{"unknown phase key", "phases:\n  - totalLive: 1Mi\n    totalLiveMB: 3\n    buckets: [{}]\n"},
		{"unknown bucket key", "phases:\n  - totalLive: 1Mi\n    buckets: [{size: 3}]\n"},
		{"missing totalLive", "phases:\n  - totalAlloc: 1Mi\n    buckets: [{}]\n"},
		{"missing buckets", "phases:\n  - totalLive: 1Mi\n"},
		{"zero threads", "threadCount: 0\nphases:\n  - totalLive: 1Mi\n    buckets: [{}]\n"},
		{"bad quantity", "phases:\n  - totalLive: lots\n    buckets: [{}]\n"},
		{"bad test kind", "phases:\n  - totalLive: 1Mi\n    testKind: forever\n    buckets: [{}]\n"},
		{"no phases", "threadCount: 1\n"},
		{"high survival without minutes", "phases:\n  - totalLive: 1Mi\n    testKind: highSurvival\n    buckets: [{}]\n"},
		{"infinite weight", "phases:\n  - totalLive: 1Mi\n    buckets: [{weight: .inf}]\n"},
		{"live below one object", "phases:\n  - totalLive: 100\n    buckets: [{}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := workload.Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestParseValidationErrorIsInvalidConfig(t *testing.T) {
	_, err := workload.Parse([]byte("phases:\n  - totalLive: 1Mi\n    totalAlloc: 10\n    buckets: [{}]\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, workload.ErrInvalidConfig))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoPhases), 0o644))

	cfg, err := workload.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Phases, 2)

	_, err = workload.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
