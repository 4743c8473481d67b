// Package bucket describes populations of allocated objects and makes the
// per-allocation decisions for them.
//
// A Spec is the immutable description of a population: a size range, how
// often its objects survive, get pinned or get a finalizer, and its relative
// weight. A Bucket is the mutable, single-owner companion of a Spec that keeps
// the running counters for one worker.
package bucket

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/prng"
)

// LargeObjectThreshold is the object size at which an allocation is charged
// to the large region instead of the ordinary one.
const LargeObjectThreshold = 85000

// ErrInvalidSpec is returned when a bucket description is inconsistent.
var ErrInvalidSpec = errors.New("invalid bucket spec")

// Region identifies which heap region an allocation is accounted to.
type Region int

const (
	RegionOrdinary Region = iota
	RegionLarge
	RegionPinned
)

func (r Region) String() string {
	switch r {
	case RegionOrdinary:
		return "ordinary"
	case RegionLarge:
		return "large"
	case RegionPinned:
		return "pinned"
	default:
		return fmt.Sprintf("region(%d)", int(r))
	}
}

// SizeRange is an inclusive-low, exclusive-high range of object sizes.
type SizeRange struct {
	Low  uint32 `json:"low" yaml:"low"`
	High uint32 `json:"high" yaml:"high"`
}

// Mean returns the midpoint of the range.
func (r SizeRange) Mean() uint64 {
	return (uint64(r.Low) + uint64(r.High)) / 2
}

func (r SizeRange) String() string {
	return fmt.Sprintf("%d-%d", r.Low, r.High)
}

// Spec is the immutable description of one object population.
type Spec struct {
	SizeRange SizeRange `json:"sizeRange"`
	// SurvInterval makes every Nth allocation survive long term; 0 means never.
	SurvInterval uint32 `json:"survInterval"`
	// ReqSurvInterval makes every Nth allocation survive for the current request.
	ReqSurvInterval uint32 `json:"reqSurvInterval"`
	// PinInterval and FinalizableInterval only apply to surviving objects.
	PinInterval         uint32 `json:"pinInterval"`
	FinalizableInterval uint32 `json:"finalizableInterval"`
	// Weight is relative: with weights 2 and 1 the first bucket is drawn
	// twice as often on average.
	Weight float64 `json:"weight"`
	IsPoh  bool    `json:"isPoh"`
}

// Validate reports whether s can be used to build a Bucket.
func (s Spec) Validate() error {
	if !(s.Weight > 0) || math.IsInf(s.Weight, 0) {
		return errors.Wrapf(ErrInvalidSpec, "bucket %s: weight must be positive and finite, got %v", s.SizeRange, s.Weight)
	}
	if s.SizeRange.Low > s.SizeRange.High {
		return errors.Wrapf(ErrInvalidSpec, "bucket %s: low size exceeds high size", s.SizeRange)
	}
	if (s.PinInterval != 0 || s.FinalizableInterval != 0) && s.SurvInterval == 0 {
		return errors.Wrapf(ErrInvalidSpec,
			"bucket %s: pinInterval and finalizableInterval only affect surviving objects, but nothing survives", s.SizeRange)
	}
	return nil
}

func (s Spec) String() string {
	return fmt.Sprintf("%s; surv every %d; pin every %d; finalize every %d; weight %g; isPoh %t",
		s.SizeRange, s.SurvInterval, s.PinInterval, s.FinalizableInterval, s.Weight, s.IsPoh)
}

// ObjectSpec is the decision made for a single allocation.
type ObjectSpec struct {
	Size           uint32
	Pinned         bool
	Finalizable    bool
	Survive        bool
	SurviveRequest bool
	Region         Region
}

// IsNth reports whether n is a multiple of interval. An interval of 0 never matches.
func IsNth(interval uint32, n uint64) bool {
	return interval != 0 && n%uint64(interval) == 0
}

// RegionBytes holds bytes allocated per region.
type RegionBytes struct {
	Ordinary uint64 `json:"ordinary"`
	Large    uint64 `json:"large"`
	Pinned   uint64 `json:"pinned"`
}

// Add returns the element-wise sum.
func (b RegionBytes) Add(o RegionBytes) RegionBytes {
	return RegionBytes{
		Ordinary: b.Ordinary + o.Ordinary,
		Large:    b.Large + o.Large,
		Pinned:   b.Pinned + o.Pinned,
	}
}

// Total returns the sum over all regions.
func (b RegionBytes) Total() uint64 {
	return b.Ordinary + b.Large + b.Pinned
}

// Progress is the activity of a bucket since the previous progress reset.
type Progress struct {
	AllocatedBytesTotal uint64
	AllocatedBytes      uint64
	AllocatedCount      uint64
	SurvivedBytes       uint64
	SurvivedCount       uint64
	PinnedBytes         uint64
}

// Bucket is the per-worker runtime state of a Spec.
type Bucket struct {
	spec Spec

	// count drives every interval decision.
	count uint64

	regions                    RegionBytes
	allocatedBytesTotal        uint64
	allocatedBytesAsOfLastRead uint64
	allocatedCountSinceLast    uint64
	survivedBytesSinceLast     uint64
	survivedCountSinceLast     uint64
	pinnedBytesSinceLast       uint64
	survivedCountTotal         uint64
}

// New returns an empty Bucket for spec.
func New(spec Spec) *Bucket {
	return &Bucket{spec: spec}
}

// Spec returns the bucket's description.
func (b *Bucket) Spec() Spec { return b.spec }

// Count returns the number of allocations drawn from the bucket.
func (b *Bucket) Count() uint64 { return b.count }

// SurvivedCount returns the number of allocations marked to survive.
func (b *Bucket) SurvivedCount() uint64 { return b.survivedCountTotal }

// AllocatedBytes returns the sum of all object sizes drawn.
func (b *Bucket) AllocatedBytes() uint64 { return b.allocatedBytesTotal }

// Regions returns bytes allocated per region.
func (b *Bucket) Regions() RegionBytes { return b.regions }

// Next draws the next object from the bucket. overhead is the part of the
// object that always lives in the ordinary region (the wrapper header).
func (b *Bucket) Next(r *prng.Rand, overhead uint32) ObjectSpec {
	b.count++

	size := r.Range(b.spec.SizeRange.Low, b.spec.SizeRange.High)
	survive := IsNth(b.spec.SurvInterval, b.count)
	surviveReq := IsNth(b.spec.ReqSurvInterval, b.count)
	// Pin and finalize cadence is keyed off the survivor sequence number.
	pinned := survive && IsNth(b.spec.PinInterval, b.count/uint64(b.spec.SurvInterval))
	finalizable := survive && IsNth(b.spec.FinalizableInterval, b.count/uint64(b.spec.SurvInterval))

	region := RegionOrdinary
	switch {
	case b.spec.IsPoh:
		region = RegionPinned
		b.regions.Ordinary += uint64(overhead)
		b.regions.Pinned += uint64(size - overhead)
	case size >= LargeObjectThreshold:
		region = RegionLarge
		b.regions.Ordinary += uint64(overhead)
		b.regions.Large += uint64(size - overhead)
	default:
		b.regions.Ordinary += uint64(size)
	}

	b.allocatedBytesTotal += uint64(size)
	b.allocatedCountSinceLast++
	if pinned {
		b.pinnedBytesSinceLast += uint64(size)
	}
	if survive {
		b.survivedBytesSinceLast += uint64(size)
		b.survivedCountSinceLast++
		b.survivedCountTotal++
	}

	return ObjectSpec{
		Size:           size,
		Pinned:         pinned,
		Finalizable:    finalizable,
		Survive:        survive,
		SurviveRequest: surviveReq,
		Region:         region,
	}
}

// TakeProgress returns the activity since the previous call and resets it.
func (b *Bucket) TakeProgress() Progress {
	p := Progress{
		AllocatedBytesTotal: b.allocatedBytesTotal,
		AllocatedBytes:      b.allocatedBytesTotal - b.allocatedBytesAsOfLastRead,
		AllocatedCount:      b.allocatedCountSinceLast,
		SurvivedBytes:       b.survivedBytesSinceLast,
		SurvivedCount:       b.survivedCountSinceLast,
		PinnedBytes:         b.pinnedBytesSinceLast,
	}
	b.allocatedBytesAsOfLastRead = b.allocatedBytesTotal
	b.allocatedCountSinceLast = 0
	b.survivedBytesSinceLast = 0
	b.survivedCountSinceLast = 0
	b.pinnedBytesSinceLast = 0
	return p
}
