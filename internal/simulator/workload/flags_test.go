package workload_test

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
)

func ptr(v float64) *float64 { return &v }

func TestDefaultFlagsBuild(t *testing.T) {
	f := workload.DefaultFlags()
	f.TotalLiveGB = ptr(1)

	cfg, err := f.Build()
	require.NoError(t, err)
	require.Len(t, cfg.Phases, 1)

	p := cfg.Phases[0]
	assert.Equal(t, uint32(4), p.ThreadCount)
	assert.Equal(t, payload.AllocReference, p.AllocType)
	assert.Equal(t, uint64(1<<30)/4, p.TotalLiveBytes)
	assert.Equal(t, uint64(0), p.TotalAllocBytes)
	// Neither budget nor minutes: run for a minute.
	assert.Equal(t, time.Minute, p.Duration)

	require.Len(t, p.Buckets, 1)
	b := p.Buckets[0]
	assert.Equal(t, bucket.SizeRange{Low: 100, High: 4000}, b.SizeRange)
	assert.Equal(t, uint32(30), b.SurvInterval)
	assert.Equal(t, uint32(3), b.ReqSurvInterval)
	assert.Equal(t, uint32(100), b.PinInterval)
	assert.InDelta(t, 1000, b.Weight, 1e-9)
}

func TestFlagsAllocBudgetDisablesDefaultMinutes(t *testing.T) {
	f := workload.DefaultFlags()
	f.TotalLiveGB = ptr(0.01)
	f.TotalAllocGB = ptr(1)
	f.ThreadCount = 2

	cfg, err := f.Build()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Phases[0].Duration)
	assert.Equal(t, uint64(1<<29), cfg.Phases[0].TotalAllocBytes)
}

func TestFlagsRejectSurvivalWithZeroLive(t *testing.T) {
	f := workload.DefaultFlags()
	f.TotalLiveGB = ptr(0)
	_, err := f.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, workload.ErrInvalidConfig))

	f.Ordinary.SurvInterval = 0
	f.Ordinary.PinInterval = 0
	f.Large.SurvInterval = 0
	f.Large.PinInterval = 0
	_, err = f.Build()
	require.NoError(t, err)
}

func TestFlagsValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *workload.Flags)
	}{
		{"zero threads", func(f *workload.Flags) { f.ThreadCount = 0 }},
		{"ratios above 1000", func(f *workload.Flags) { f.LargeAllocRatio, f.PinnedAllocRatio = 700, 400 }},
		{"large range below threshold", func(f *workload.Flags) { f.Large.SizeRange = bucket.SizeRange{Low: 1000, High: 2000} }},
		{"alloc budget below object", func(f *workload.Flags) {
			f.ThreadCount = 1
			f.TotalAllocGB = ptr(1e-9)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := workload.DefaultFlags()
			f.TotalLiveGB = ptr(1)
			tt.mutate(&f)
			_, err := f.Build()
			require.Error(t, err)
			assert.True(t, errors.Is(err, workload.ErrInvalidConfig), "%v", err)
		})
	}
}

func TestRegionWeightsSolveSystem(t *testing.T) {
	const overhead = float64(payload.LinkedHeaderOverhead)
	ms, ml, mp := 2050.0, 153600.0, 102450.0

	tests := []struct {
		name          string
		large, pinned uint32
	}{
		{"ordinary only", 0, 0},
		{"ten percent large", 100, 0},
		{"large and pinned", 150, 50},
		{"mostly large", 900, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, wl, wp := workload.RegionWeights(uint64(ms), uint64(ml), uint64(mp), tt.large, tt.pinned, overhead)
			lr, pr := float64(tt.large), float64(tt.pinned)
			or := 1000 - lr - pr

			assert.InDelta(t, 1000, ws+wl+wp, 1e-6)
			assert.InDelta(t, lr*overhead, or*(ml-overhead)*wl-lr*(ms-overhead)*ws, 1e-3)
			assert.InDelta(t, pr*overhead, or*(mp-overhead)*wp-pr*(ms-overhead)*ws, 1e-3)

			// Byte shares land close to the requested ratios.
			large := wl * (ml - overhead)
			pinned := wp * (mp - overhead)
			total := ws*ms + wl*ml + wp*mp
			assert.InDelta(t, lr/1000, large/total, 0.01)
			assert.InDelta(t, pr/1000, pinned/total, 0.01)
		})
	}
}

func TestRatioBucketsOmitNonPositiveWeights(t *testing.T) {
	f := workload.DefaultFlags()
	f.TotalLiveGB = ptr(1)
	f.LargeAllocRatio = 100

	cfg, err := f.Build()
	require.NoError(t, err)
	buckets := cfg.Phases[0].Buckets
	require.Len(t, buckets, 2)
	assert.Equal(t, uint32(workload.DefaultLargeLow), buckets[0].SizeRange.Low)
	assert.Equal(t, uint32(workload.DefaultOrdinaryLow), buckets[1].SizeRange.Low)
	for _, b := range buckets {
		assert.Greater(t, b.Weight, 0.0)
		assert.False(t, math.IsNaN(b.Weight))
	}
}

func TestPinnedRatioBucket(t *testing.T) {
	f := workload.DefaultFlags()
	f.TotalLiveGB = ptr(1)
	f.PinnedAllocRatio = 50

	cfg, err := f.Build()
	require.NoError(t, err)
	var found bool
	for _, b := range cfg.Phases[0].Buckets {
		if b.IsPoh {
			found = true
			assert.Zero(t, b.PinInterval)
		}
	}
	assert.True(t, found)
}

func TestSizeDistributionFlags(t *testing.T) {
	f := workload.DefaultFlags()
	f.TotalLiveGB = ptr(1)
	f.SizeDistribution = true

	cfg, err := f.Build()
	require.NoError(t, err)
	buckets := cfg.Phases[0].Buckets
	assert.Greater(t, len(buckets), 60)

	var poh, large int
	for _, b := range buckets {
		if b.IsPoh {
			poh++
			assert.Zero(t, b.PinInterval)
		} else if b.SizeRange.Low >= bucket.LargeObjectThreshold {
			large++
		}
	}
	assert.Equal(t, len(bucket.PinnedSlots), poh)
	assert.Greater(t, large, 0)
}

func TestParseSizeRange(t *testing.T) {
	r, err := workload.ParseSizeRange("100-4000")
	require.NoError(t, err)
	assert.Equal(t, bucket.SizeRange{Low: 100, High: 4000}, r)

	r, err = workload.ParseSizeRange("0x64-0x1000")
	require.NoError(t, err)
	assert.Equal(t, bucket.SizeRange{Low: 100, High: 4096}, r)

	for _, bad := range []string{"100", "a-b", "1-99999999999"} {
		_, err := workload.ParseSizeRange(bad)
		assert.Error(t, err, bad)
	}
}
