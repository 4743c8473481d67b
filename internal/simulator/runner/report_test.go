package runner_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/runner"
)

func TestWriteStats(t *testing.T) {
	res := &runner.Result{
		Regions:               bucket.RegionBytes{Ordinary: 1000, Large: 200000, Pinned: 30},
		Seconds:               1.5,
		CollectionCount:       7,
		CreatedWithFinalizers: 4,
		Finalized:             4,
		Memory: runner.MemoryStats{
			TotalBytes:         100,
			HeapSizeBytes:      4096,
			FragmentationBytes: 12,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, runner.WriteStats(&buf, res))
	want := `=== STATS ===
sohAllocatedBytes: 1000
lohAllocatedBytes: 200000
pohAllocatedBytes: 30
seconds_taken: 1.5
collection_counts: [7, 7, 7]
num_created_with_finalizers: 4
num_finalized: 4
final_total_memory_bytes: 100
final_heap_size_bytes: 4096
final_fragmentation_bytes: 12
`
	assert.Equal(t, want, buf.String())

	res.Memory.MaxRSSBytes = 1 << 20
	out := string(runner.Render(res))
	assert.Contains(t, out, "max_rss_bytes: 1048576\n")
	assert.True(t, bytes.HasPrefix([]byte(out), []byte(runner.StatsMarker+"\n")))
}
