package runner

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"strconv"
)

// StatsMarker precedes the machine-readable block. Everything after it is
// parsed as YAML by downstream tooling.
const StatsMarker = "=== STATS ==="

// MemoryStats are the host figures read once the run is over.
type MemoryStats struct {
	TotalBytes         uint64 `json:"totalBytes"`
	HeapSizeBytes      uint64 `json:"heapSizeBytes"`
	FragmentationBytes uint64 `json:"fragmentationBytes"`
	// MaxRSSBytes is 0 where the platform does not report it.
	MaxRSSBytes uint64 `json:"maxRssBytes,omitempty"`
}

func readMemory() (uint32, MemoryStats) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.NumGC, MemoryStats{
		TotalBytes:         ms.HeapAlloc,
		HeapSizeBytes:      ms.HeapSys - ms.HeapReleased,
		FragmentationBytes: ms.HeapInuse - ms.HeapAlloc,
		MaxRSSBytes:        maxRSS(),
	}
}

// WriteStats writes the marker line followed by one "key: value" line per metric.
// Every Go collection is a full one, so all three generation counts are equal.
func WriteStats(w io.Writer, res *Result) error {
	gcs := res.CollectionCount
	lines := []struct {
		key, value string
	}{
		{"sohAllocatedBytes", strconv.FormatUint(res.Regions.Ordinary, 10)},
		{"lohAllocatedBytes", strconv.FormatUint(res.Regions.Large, 10)},
		{"pohAllocatedBytes", strconv.FormatUint(res.Regions.Pinned, 10)},
		{"seconds_taken", strconv.FormatFloat(res.Seconds, 'f', -1, 64)},
		{"collection_counts", fmt.Sprintf("[%d, %d, %d]", gcs, gcs, gcs)},
		{"num_created_with_finalizers", strconv.FormatInt(res.CreatedWithFinalizers, 10)},
		{"num_finalized", strconv.FormatInt(res.Finalized, 10)},
		{"final_total_memory_bytes", strconv.FormatUint(res.Memory.TotalBytes, 10)},
		{"final_heap_size_bytes", strconv.FormatUint(res.Memory.HeapSizeBytes, 10)},
		{"final_fragmentation_bytes", strconv.FormatUint(res.Memory.FragmentationBytes, 10)},
	}
	if res.Memory.MaxRSSBytes != 0 {
		lines = append(lines, struct{ key, value string }{"max_rss_bytes", strconv.FormatUint(res.Memory.MaxRSSBytes, 10)})
	}

	if _, err := fmt.Fprintln(w, StatsMarker); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s: %s\n", l.key, l.value); err != nil {
			return err
		}
	}
	return nil
}

// Render returns the STATS block as bytes.
func Render(res *Result) []byte {
	var buf bytes.Buffer
	_ = WriteStats(&buf, res)
	return buf.Bytes()
}
