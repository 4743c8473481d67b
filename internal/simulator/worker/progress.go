package worker

import (
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
)

// progressTable prints the fixed-column per-bucket progress report.
type progressTable struct {
	out    io.Writer
	p      *message.Printer
	thread int
}

func newProgressTable(out io.Writer, thread int) *progressTable {
	return &progressTable{out: out, p: message.NewPrinter(language.English), thread: thread}
}

func (t *progressTable) header(nBuckets int) {
	fmt.Fprintf(t.out, "%3s | %10s | %6s | %6s | %8s", "T", "iter", "gcs", "ms", "heap(mb)")
	for b := 0; b < nBuckets; b++ {
		fmt.Fprintf(t.out, " | %14s | %14s | %14s | %5s | %10s | %10s",
			fmt.Sprintf("b%d total", b),
			fmt.Sprintf("b%d alloc", b),
			fmt.Sprintf("b%d surv", b),
			"ratio",
			fmt.Sprintf("b%d pinned", b),
			"ratio")
	}
	fmt.Fprintln(t.out)
}

// row prints one line and resets every bucket's since-last-print counters.
func (t *progressTable) row(iter uint64, sinceLast time.Duration, buckets []*bucket.Bucket) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	t.p.Fprintf(t.out, "%3d | %10d | %6d | %6d | %8d",
		t.thread, iter, ms.NumGC, sinceLast.Milliseconds(), ms.HeapAlloc>>20)
	for _, b := range buckets {
		pr := b.TakeProgress()
		t.p.Fprintf(t.out, " | %14d | %14d | %14d | %5d | %10d | %10.2f",
			pr.AllocatedBytesTotal,
			pr.AllocatedBytes,
			pr.SurvivedBytes,
			percent(pr.SurvivedBytes, pr.AllocatedBytes),
			pr.PinnedBytes,
			float64(percent(pr.PinnedBytes, pr.SurvivedBytes)))
	}
	fmt.Fprintln(t.out)
}

func percent(a, b uint64) int {
	if b == 0 {
		return 0
	}
	return int(float64(a) * 100 / float64(b))
}
