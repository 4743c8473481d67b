// Package workload holds the validated description of a simulation run: the
// phases it goes through and the run-wide switches.
//
// A Config is built either from command-line flags (Flags.Build) or from a
// YAML document (Load, Parse), and must pass Validate before any worker
// starts. Byte budgets inside a Phase are already divided per thread.
package workload

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
)

// ErrInvalidConfig is returned for every configuration that cannot run.
var ErrInvalidConfig = errors.New("invalid workload config")

// DefaultDuration bounds a time phase that sets neither an allocation budget
// nor a duration.
const DefaultDuration = time.Minute

const (
	bytesInMB = 1024 * 1024
	bytesInGB = 1024 * bytesInMB
)

// TestKind selects what a phase does after its survivor set is filled.
type TestKind int

const (
	// TestTime allocates until the allocation budget or duration runs out.
	TestTime TestKind = iota
	// TestHighSurvival only forces collections until the duration elapses.
	TestHighSurvival
)

func (k TestKind) String() string {
	switch k {
	case TestTime:
		return "time"
	case TestHighSurvival:
		return "highSurvival"
	default:
		return fmt.Sprintf("testKind(%d)", int(k))
	}
}

// ParseTestKind accepts "time" and "highSurvival", ignoring case.
func ParseTestKind(s string) (TestKind, error) {
	switch strings.ToLower(s) {
	case "time":
		return TestTime, nil
	case "highsurvival":
		return TestHighSurvival, nil
	default:
		return 0, errors.Newf("unknown testKind %q: want time or highSurvival", s)
	}
}

func (k TestKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TestKind) UnmarshalText(b []byte) error {
	v, err := ParseTestKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Phase is one stage of a run. Byte budgets are per thread.
type Phase struct {
	TestKind  TestKind          `json:"testKind"`
	AllocType payload.AllocType `json:"allocType"`

	TotalLiveBytes uint64 `json:"totalLiveBytes"`
	// TotalAllocBytes ends the phase once allocated; 0 means no byte budget.
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	// RequestLiveBytes sizes the request-scoped survivor set.
	RequestLiveBytes uint64 `json:"requestLiveBytes"`
	// RequestAllocBytes resets the request-scoped set each time it is allocated.
	RequestAllocBytes uint64 `json:"requestAllocBytes"`
	// Duration ends the phase once elapsed; 0 means no time limit.
	Duration time.Duration `json:"duration"`

	Buckets     []bucket.Spec `json:"buckets"`
	ThreadCount uint32        `json:"threadCount"`
	// Compute burns up to Compute random draws after every allocation.
	Compute uint32 `json:"compute"`
}

// RunDuration is the time limit the phase actually runs with.
func (p Phase) RunDuration() time.Duration {
	if p.Duration == 0 && p.TotalAllocBytes == 0 && p.TestKind == TestTime {
		return DefaultDuration
	}
	return p.Duration
}

// MinBucketSize returns the smallest size any bucket can produce.
func (p Phase) MinBucketSize() uint32 {
	lowest := uint32(math.MaxUint32)
	for _, b := range p.Buckets {
		lowest = min(lowest, b.SizeRange.Low)
	}
	return lowest
}

// Validate reports the first reason the phase cannot run.
func (p Phase) Validate() error {
	if p.ThreadCount == 0 {
		return errors.Wrap(ErrInvalidConfig, "threadCount must be at least 1")
	}
	if p.TestKind != TestTime && p.TestKind != TestHighSurvival {
		return errors.Wrapf(ErrInvalidConfig, "unknown %s", p.TestKind)
	}
	if p.AllocType != payload.AllocSimple && p.AllocType != payload.AllocReference {
		return errors.Wrapf(ErrInvalidConfig, "unknown %s", p.AllocType)
	}
	if len(p.Buckets) == 0 {
		return errors.Wrap(ErrInvalidConfig, "at least one bucket is required")
	}
	minSize := p.AllocType.MinSize()
	for i, b := range p.Buckets {
		if err := b.Validate(); err != nil {
			return errors.Mark(errors.Wrapf(err, "bucket %d", i), ErrInvalidConfig)
		}
		if b.SizeRange.Low <= minSize {
			return errors.Wrapf(ErrInvalidConfig,
				"bucket %d: lowSize %d must exceed the %s object overhead of %d bytes",
				i, b.SizeRange.Low, p.AllocType, minSize)
		}
	}
	if p.Duration < 0 {
		return errors.Wrap(ErrInvalidConfig, "duration must not be negative")
	}
	if p.TestKind == TestHighSurvival && p.Duration == 0 {
		return errors.Wrap(ErrInvalidConfig, "highSurvival needs a duration")
	}
	if p.TotalAllocBytes != 0 && p.TotalAllocBytes < uint64(p.MinBucketSize()) {
		return errors.Wrapf(ErrInvalidConfig,
			"totalAllocBytes per thread (%d) is smaller than the smallest object (%d)",
			p.TotalAllocBytes, p.MinBucketSize())
	}

	chooser, err := bucket.NewChooser(p.Buckets)
	if err != nil {
		return errors.Mark(err, ErrInvalidConfig)
	}
	avg := chooser.AverageObjectSize()
	if p.TotalLiveBytes != 0 && p.TotalLiveBytes/avg == 0 {
		return errors.Wrapf(ErrInvalidConfig,
			"totalLiveBytes per thread (%d) is smaller than the average object (%d)", p.TotalLiveBytes, avg)
	}
	if p.TotalLiveBytes/avg > math.MaxUint32 || p.RequestLiveBytes/avg > math.MaxUint32 {
		return errors.Wrapf(ErrInvalidConfig, "live budget needs more than %d survivor slots", uint32(math.MaxUint32))
	}
	return nil
}

// Describe renders the phase for logs.
func (p Phase) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s, %s, live %s, alloc %s, duration %s, threads %d, buckets:",
		p.TestKind, p.AllocType, ByteSize(p.TotalLiveBytes), ByteSize(p.TotalAllocBytes), p.Duration, p.ThreadCount)
	for _, b := range p.Buckets {
		fmt.Fprintf(&sb, "\n    %s", b)
	}
	return sb.String()
}

// Config is a complete run.
type Config struct {
	Phases []Phase `json:"phases"`

	VerifyLiveSize        bool   `json:"verifyLiveSize"`
	PrintEveryNthIter     uint32 `json:"printEveryNthIter"`
	FinishWithFullCollect bool   `json:"finishWithFullCollect"`
	// EndPanic panics after the run for post-mortem debugging.
	EndPanic bool `json:"endPanic"`
	// Seed starts every worker's random source.
	Seed uint32 `json:"seed"`
}

// Validate checks every phase.
func (c *Config) Validate() error {
	if len(c.Phases) == 0 {
		return errors.Wrap(ErrInvalidConfig, "at least one phase is required")
	}
	for i, p := range c.Phases {
		if err := p.Validate(); err != nil {
			return errors.Wrapf(err, "phase %d", i)
		}
	}
	return nil
}

// MaxThreads returns the largest thread count of any phase.
func (c *Config) MaxThreads() uint32 {
	var n uint32
	for _, p := range c.Phases {
		n = max(n, p.ThreadCount)
	}
	return n
}

// PerThread divides a run-wide budget among threads. The remainder is dropped.
func PerThread(total uint64, threads uint32) uint64 {
	if threads == 0 {
		return 0
	}
	return total / uint64(threads)
}

// AboutEquals reports whether a is within 10% of b. Only 0 is about 0.
func AboutEquals(a, b float64) bool {
	if b == 0 {
		return a == 0
	}
	return math.Abs(a/b-1) < 0.1
}

// GBToBytes converts binary gigabytes to bytes.
func GBToBytes(gb float64) uint64 {
	return uint64(math.Round(gb * bytesInGB))
}

// MBToBytes converts binary megabytes to bytes.
func MBToBytes(mb float64) uint64 {
	return uint64(math.Round(mb * bytesInMB))
}

// BytesToMB converts bytes to binary megabytes.
func BytesToMB(b uint64) float64 {
	return float64(b) / bytesInMB
}
